// Package analysis attributes a subject file's undefined symbols to the
// direct dependency that would satisfy them at load time, and from that
// attribution derives the set of declared dependencies contributing
// nothing to the subject.
package analysis

import (
	"github.com/jamestiotio/depcheck/elfdep/elfmeta"
	"github.com/jamestiotio/depcheck/elfdep/fileset"
)

// DiagnosticKind classifies one non-fatal finding surfaced alongside a
// Result.
type DiagnosticKind int

const (
	DiagUnresolvedDependency DiagnosticKind = iota
	DiagCorruptDependency
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagUnresolvedDependency:
		return "UnresolvedDependency"
	case DiagCorruptDependency:
		return "CorruptDependency"
	default:
		return "Unknown"
	}
}

// Diagnostic is a non-fatal finding attached to a Result: something the
// analyser noticed but that does not by itself invalidate the subject's
// output.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
}

// DependencyVerdict is the analyser's conclusion about one of the
// subject's direct DT_NEEDED entries.
type DependencyVerdict struct {
	SONAME                string
	File                  *elfmeta.File // nil if Unresolved
	Attributed            []string      // imported symbol names satisfied by this dependency
	RequiredForVersioning bool
	Unresolved            bool
}

// Unused reports whether this dependency contributes nothing to the
// subject: no attributed symbol, and not needed to satisfy a version
// requirement. An unresolved dependency is never "unused" — it is a
// distinct failure mode, reported separately.
func (v DependencyVerdict) Unused() bool {
	return !v.Unresolved && len(v.Attributed) == 0 && !v.RequiredForVersioning
}

// Result is one subject's complete analysis.
type Result struct {
	Subject      *elfmeta.File
	Verdicts     []DependencyVerdict // in DT_NEEDED order
	Unattributed []string            // imported symbol names satisfied by no dependency
	Diagnostics  []Diagnostic
}

// UnusedSonames returns the SONAMEs of every dependency verdict marked
// unused, in DT_NEEDED order.
func (r *Result) UnusedSonames() []string {
	var out []string
	for _, v := range r.Verdicts {
		if v.Unused() {
			out = append(out, v.SONAME)
		}
	}
	return out
}

// UnresolvedSonames returns the SONAMEs of every dependency with no
// loaded file (never located, or located but failed to load), in
// DT_NEEDED order.
func (r *Result) UnresolvedSonames() []string {
	var out []string
	for _, v := range r.Verdicts {
		if v.Unresolved {
			out = append(out, v.SONAME)
		}
	}
	return out
}

// exportIndex is one dependency's exported-symbol lookup structures.
type exportIndex struct {
	versioned map[symKey]bool // (name, version) -> exported
	byName    map[string]bool // name -> exported by some version, for unversioned imports
}

type symKey struct {
	name    string
	version string
}

func buildExportIndex(d *elfmeta.File) (exportIndex, error) {
	idx := exportIndex{versioned: make(map[symKey]bool), byName: make(map[string]bool)}
	syms, err := d.DynamicSymbols()
	if err != nil {
		return idx, err
	}
	for _, s := range syms {
		if !s.IsExported() {
			continue
		}
		idx.versioned[symKey{s.Name, s.VersionName}] = true
		idx.byName[s.Name] = true
	}
	return idx, nil
}

// Analyze runs the full attribution pipeline (spec.md 4.E) for subject,
// which must already be loaded into set.
func Analyze(set *fileset.Set, subject *elfmeta.File) (*Result, error) {
	res := &Result{Subject: subject}

	// Step 1: collect the subject's imports.
	imports, err := subject.DynamicSymbols()
	if err != nil {
		return nil, err
	}

	// Step 2: build one export index per direct dependency, in DT_NEEDED
	// order; also track which SONAMEs resolved to a loaded file and which
	// are DT_FILTER/DT_AUXILIARY (never unused, per the open-question
	// decision recorded in DESIGN.md).
	needed := subject.Needed()
	filters := make(map[string]bool)
	for _, n := range subject.Filters() {
		filters[n] = true
	}

	verdicts := make([]DependencyVerdict, len(needed))
	indices := make([]exportIndex, len(needed))
	for i, name := range needed {
		verdicts[i] = DependencyVerdict{SONAME: name}
		dep := set.FileBySoname(name)
		if dep == nil {
			verdicts[i].Unresolved = true
			if loadErr, ok := set.CorruptError(name); ok {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Kind:    DiagCorruptDependency,
					Message: "could not load " + name + ": " + loadErr.Error(),
				})
			} else {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Kind:    DiagUnresolvedDependency,
					Message: "dependency not found on search path: " + name,
				})
			}
			continue
		}
		verdicts[i].File = dep
		idx, err := buildExportIndex(dep)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:    DiagCorruptDependency,
				Message: "could not read symbol table of " + name + ": " + err.Error(),
			})
			continue
		}
		indices[i] = idx
	}

	// Step 3: attribute each import to the first matching dependency in
	// DT_NEEDED order.
	for _, imp := range imports {
		if !imp.IsImported() {
			continue
		}
		attributed := false
		for i := range needed {
			if verdicts[i].Unresolved {
				continue
			}
			var matches bool
			if imp.VersionName != "" {
				matches = indices[i].versioned[symKey{imp.Name, imp.VersionName}] ||
					indices[i].versioned[symKey{imp.Name, ""}]
			} else {
				matches = indices[i].byName[imp.Name]
			}
			if matches {
				verdicts[i].Attributed = append(verdicts[i].Attributed, imp.Name)
				attributed = true
				break
			}
		}
		if !attributed {
			res.Unattributed = append(res.Unattributed, imp.Name)
		}
	}

	// Step 4: version providers are required regardless of attribution.
	vns, err := subject.VerneedEntries()
	if err != nil {
		return nil, err
	}
	requiredFiles := make(map[string]bool, len(vns))
	for _, vn := range vns {
		requiredFiles[vn.File] = true
	}
	for i := range verdicts {
		if requiredFiles[verdicts[i].SONAME] || filters[verdicts[i].SONAME] {
			verdicts[i].RequiredForVersioning = true
		}
	}

	res.Verdicts = verdicts
	return res, nil
}
