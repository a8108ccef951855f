package analysis_test

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamestiotio/depcheck/elfdep/analysis"
	"github.com/jamestiotio/depcheck/elfdep/fileset"
	"github.com/jamestiotio/depcheck/elfdep/internal/elftest"
)

func write(t *testing.T, dir, name string, b elftest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Build(), 0o644))
	return path
}

func verdictFor(t *testing.T, res *analysis.Result, soname string) analysis.DependencyVerdict {
	t.Helper()
	for _, v := range res.Verdicts {
		if v.SONAME == soname {
			return v
		}
	}
	t.Fatalf("no verdict for %s", soname)
	return analysis.DependencyVerdict{}
}

func TestUnusedDependencyLibmNotCalled(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libc.so.6", elftest.Builder{
		Soname: "libc.so.6",
		Symbols: []elftest.Sym{
			{Name: "printf", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
		},
	})
	write(t, dir, "libm.so.6", elftest.Builder{
		Soname: "libm.so.6",
		Symbols: []elftest.Sym{
			{Name: "sin", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
		},
	})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libm.so.6", "libc.so.6"},
		RunPath: "$ORIGIN",
		Symbols: []elftest.Sym{
			{Name: "printf", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: uint16(elf.SHN_UNDEF)},
		},
	})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)

	require.Equal(t, []string{"libm.so.6"}, res.UnusedSonames())
	require.Empty(t, res.UnresolvedSonames())
}

func TestVersionedAttributionToPthread(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libpthread.so.0", elftest.Builder{
		Soname: "libpthread.so.0",
		Symbols: []elftest.Sym{
			{Name: "pthread_create", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1, Version: 2},
		},
		Verdef: []elftest.VerdefSpec{
			{Index: 2, Names: []string{"GLIBC_2.2.5"}, Base: true},
		},
	})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libpthread.so.0"},
		RunPath: "$ORIGIN",
		Symbols: []elftest.Sym{
			{Name: "pthread_create", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: uint16(elf.SHN_UNDEF), Version: 5},
		},
		Verneed: []elftest.VerneedSpec{
			{File: "libpthread.so.0", Aux: []elftest.VernauxSpec{{Name: "GLIBC_2.2.5", Index: 5}}},
		},
	})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)

	require.Empty(t, res.UnusedSonames())
	v := verdictFor(t, res, "libpthread.so.0")
	require.Contains(t, v.Attributed, "pthread_create")
}

func TestNeededOrderTieBreakPicksFirstDependency(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libA.so", elftest.Builder{
		Soname: "libA.so",
		Symbols: []elftest.Sym{
			{Name: "foo", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
		},
	})
	write(t, dir, "libB.so", elftest.Builder{
		Soname: "libB.so",
		Symbols: []elftest.Sym{
			{Name: "foo", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
		},
	})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libA.so", "libB.so"},
		RunPath: "$ORIGIN",
		Symbols: []elftest.Sym{
			{Name: "foo", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: uint16(elf.SHN_UNDEF)},
		},
	})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)

	require.Contains(t, verdictFor(t, res, "libA.so").Attributed, "foo")
	require.Equal(t, []string{"libB.so"}, res.UnusedSonames())
}

func TestUnresolvedDependencyNeverReportedUnused(t *testing.T) {
	dir := t.TempDir()
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libghost.so"},
		RunPath: "$ORIGIN",
	})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)

	require.Equal(t, []string{"libghost.so"}, res.UnresolvedSonames())
	require.Empty(t, res.UnusedSonames())
}

func TestFilterLibraryRequiredForVersioningNotUnused(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libreal.so", elftest.Builder{Soname: "libreal.so"})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libreal.so"},
		RunPath: "$ORIGIN",
		Filters: []string{"libreal.so"},
	})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)

	require.Empty(t, res.UnusedSonames())
	require.True(t, verdictFor(t, res, "libreal.so").RequiredForVersioning)
}

func TestCorruptDependencyStillAnalysesSubjectAndReportsDiagnostic(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libgood.so", elftest.Builder{
		Soname: "libgood.so",
		Symbols: []elftest.Sym{
			{Name: "foo", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: 1},
		},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libbad.so"), []byte("not an ELF file"), 0o644))
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libgood.so", "libbad.so"},
		RunPath: "$ORIGIN",
		Symbols: []elftest.Sym{
			{Name: "foo", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: uint16(elf.SHN_UNDEF)},
		},
	})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)

	require.Contains(t, verdictFor(t, res, "libgood.so").Attributed, "foo")
	require.True(t, verdictFor(t, res, "libbad.so").Unresolved)
	require.False(t, verdictFor(t, res, "libbad.so").Unused())

	var found bool
	for _, d := range res.Diagnostics {
		if d.Kind == analysis.DiagCorruptDependency {
			found = true
		}
	}
	require.True(t, found, "expected a corrupt-dependency diagnostic")
}

func TestZeroNeededYieldsEmptyUnusedSet(t *testing.T) {
	dir := t.TempDir()
	subjectPath := write(t, dir, "subject", elftest.Builder{})

	set := fileset.New(filepath.Join(dir, "no-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	res, err := analysis.Analyze(set, subject)
	require.NoError(t, err)
	require.Empty(t, res.UnusedSonames())
	require.Empty(t, res.Verdicts)
}
