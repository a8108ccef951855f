// Package report renders analysis.Result values to the two output forms
// depcheck supports: the plain-text block format and a JSON document for
// machine consumers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jamestiotio/depcheck/elfdep/analysis"
	"github.com/jamestiotio/depcheck/elfdep/demangle"
)

// TextReporter writes the spec's block format: one subject per block,
// "unused" lines only when there is something to report, "unresolved"
// lines always present when applicable.
type TextReporter struct {
	Verbose bool
}

// Write renders one subject's result to w.
func (r TextReporter) Write(w io.Writer, path string, res *analysis.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "%s:\n", path)
	for _, v := range res.Verdicts {
		switch {
		case v.Unresolved:
			fmt.Fprintf(tw, "    unresolved:\t%s\n", v.SONAME)
		case v.Unused():
			fmt.Fprintf(tw, "    unused:\t%s\n", v.SONAME)
		}
	}
	if r.Verbose {
		for _, v := range res.Verdicts {
			if len(v.Attributed) == 0 {
				continue
			}
			fmt.Fprintf(tw, "    attributed to %s:\n", v.SONAME)
			for _, name := range v.Attributed {
				fmt.Fprintf(tw, "        %s\t(%s)\n", name, demangle.Name(name))
			}
		}
		for _, name := range res.Unattributed {
			fmt.Fprintf(tw, "    unattributed:\t%s\t(%s)\n", name, demangle.Name(name))
		}
		for _, d := range res.Diagnostics {
			fmt.Fprintf(tw, "    diagnostic:\t%s: %s\n", d.Kind, d.Message)
		}
	}
	return tw.Flush()
}

// JSONReporter renders results as a JSON array, one object per subject,
// suitable for tooling that consumes depcheck's output programmatically.
type JSONReporter struct{}

type jsonVerdict struct {
	Soname                string   `json:"soname"`
	Unused                bool     `json:"unused"`
	Unresolved            bool     `json:"unresolved"`
	RequiredForVersioning bool     `json:"required_for_versioning"`
	Attributed            []string `json:"attributed,omitempty"`
}

type jsonResult struct {
	Subject      string        `json:"subject"`
	Dependencies []jsonVerdict `json:"dependencies"`
	Unattributed []string      `json:"unattributed,omitempty"`
	Diagnostics  []string      `json:"diagnostics,omitempty"`
}

// Encode writes every result as one JSON array to w.
func (JSONReporter) Encode(w io.Writer, subjects []string, results []*analysis.Result) error {
	out := make([]jsonResult, len(results))
	for i, res := range results {
		jr := jsonResult{Subject: subjects[i], Unattributed: res.Unattributed}
		for _, v := range res.Verdicts {
			jr.Dependencies = append(jr.Dependencies, jsonVerdict{
				Soname:                v.SONAME,
				Unused:                v.Unused(),
				Unresolved:            v.Unresolved,
				RequiredForVersioning: v.RequiredForVersioning,
				Attributed:            v.Attributed,
			})
		}
		for _, d := range res.Diagnostics {
			jr.Diagnostics = append(jr.Diagnostics, d.Kind.String()+": "+d.Message)
		}
		out[i] = jr
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
