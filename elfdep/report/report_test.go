package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamestiotio/depcheck/elfdep/analysis"
	"github.com/jamestiotio/depcheck/elfdep/report"
)

func sampleResult() *analysis.Result {
	return &analysis.Result{
		Verdicts: []analysis.DependencyVerdict{
			{SONAME: "libm.so.6"},
			{SONAME: "libc.so.6", Attributed: []string{"printf"}},
			{SONAME: "libghost.so", Unresolved: true},
		},
	}
}

func TestTextReporterShowsUnusedAndUnresolvedAndOmitsUsed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (report.TextReporter{}).Write(&buf, "/bin/subject", sampleResult()))

	out := buf.String()
	require.True(t, strings.Contains(out, "/bin/subject:"))
	require.True(t, strings.Contains(out, "unused:"))
	require.True(t, strings.Contains(out, "libm.so.6"))
	require.True(t, strings.Contains(out, "unresolved:"))
	require.True(t, strings.Contains(out, "libghost.so"))
	require.False(t, strings.Contains(out, "libc.so.6"))
}

func TestTextReporterOmitsUnusedBlockWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	res := &analysis.Result{Verdicts: []analysis.DependencyVerdict{
		{SONAME: "libc.so.6", Attributed: []string{"printf"}},
	}}
	require.NoError(t, (report.TextReporter{}).Write(&buf, "/bin/subject", res))

	out := buf.String()
	require.False(t, strings.Contains(out, "unused:"))
	require.False(t, strings.Contains(out, "unresolved:"))
}

func TestJSONReporterEncodesVerdicts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (report.JSONReporter{}).Encode(&buf, []string{"/bin/subject"}, []*analysis.Result{sampleResult()}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "/bin/subject", decoded[0]["subject"])
	deps, ok := decoded[0]["dependencies"].([]any)
	require.True(t, ok)
	require.Len(t, deps, 3)
}
