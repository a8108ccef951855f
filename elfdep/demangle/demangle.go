// Package demangle wraps github.com/ianlancetaylor/demangle for verbose
// symbol display, the same wrapping style used elsewhere in the corpus
// for the same library: a named option preset plus a
// best-effort Name function that returns its input unchanged when it
// does not parse as a mangled symbol.
package demangle

import "github.com/ianlancetaylor/demangle"

// Simplified drops argument and template-argument lists, giving the
// short form depcheck shows next to each attributed or unattributed
// symbol.
var Simplified = []demangle.Option{demangle.NoParams, demangle.NoTemplateParams}

// Name best-effort demangles an Itanium C++ or Rust v0 symbol name using
// the Simplified preset.
func Name(name string) string {
	return demangle.Filter(name, Simplified...)
}
