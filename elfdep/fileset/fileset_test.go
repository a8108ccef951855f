package fileset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamestiotio/depcheck/elfdep/fileset"
	"github.com/jamestiotio/depcheck/elfdep/internal/elftest"
)

func write(t *testing.T, dir, name string, b elftest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Build(), 0o644))
	return path
}

func TestAddFileResolvesTransitiveNeeded(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libc.so.6", elftest.Builder{Soname: "libc.so.6"})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libc.so.6"},
		RunPath: "$ORIGIN",
	})

	set := fileset.New(filepath.Join(dir, "nonexistent-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)
	require.NotNil(t, subject)

	require.NotNil(t, set.FileBySoname("libc.so.6"))
	require.Empty(t, set.UnresolvedNames())
}

func TestUnresolvedDependencyIsRecorded(t *testing.T) {
	dir := t.TempDir()
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libghost.so"},
		RunPath: "$ORIGIN",
	})

	set := fileset.New(filepath.Join(dir, "nonexistent-ld.so.conf"))
	_, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	require.True(t, set.Unresolved("libghost.so"))
	require.Nil(t, set.FileBySoname("libghost.so"))
}

func TestCorruptDependencyIsRecordedWithoutFailingTheSubject(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libgood.so", elftest.Builder{Soname: "libgood.so"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libbad.so"), []byte("not an ELF file"), 0o644))
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libgood.so", "libbad.so"},
		RunPath: "$ORIGIN",
	})

	set := fileset.New(filepath.Join(dir, "nonexistent-ld.so.conf"))
	subject, err := set.AddFile(subjectPath)
	require.NoError(t, err)
	require.NotNil(t, subject)

	require.NotNil(t, set.FileBySoname("libgood.so"))
	require.Nil(t, set.FileBySoname("libbad.so"))
	require.False(t, set.Unresolved("libbad.so"))
	loadErr, ok := set.CorruptError("libbad.so")
	require.True(t, ok)
	require.Error(t, loadErr)
}

func TestOriginExpansionResolvesRelativeRunPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "lib"), 0o755))
	write(t, dir, "lib/libpriv.so", elftest.Builder{Soname: "libpriv.so"})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed:  []string{"libpriv.so"},
		RunPath: "$ORIGIN/lib",
	})

	set := fileset.New(filepath.Join(dir, "nonexistent-ld.so.conf"))
	_, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	require.NotNil(t, set.FileBySoname("libpriv.so"))
	require.Empty(t, set.UnresolvedNames())
}

func TestCyclicDependenciesLoadWithoutInfiniteRecursionAndAreFlagged(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libX.so", elftest.Builder{
		Soname: "libX.so", Needed: []string{"libY.so"}, RunPath: "$ORIGIN",
	})
	write(t, dir, "libY.so", elftest.Builder{
		Soname: "libY.so", Needed: []string{"libX.so"}, RunPath: "$ORIGIN",
	})

	set := fileset.New(filepath.Join(dir, "nonexistent-ld.so.conf"))
	_, err := set.AddFile(filepath.Join(dir, "libX.so"))
	require.NoError(t, err)

	require.NotNil(t, set.FileBySoname("libX.so"))
	require.NotNil(t, set.FileBySoname("libY.so"))

	sorted := set.TopologicalSort()
	require.Len(t, sorted, 2)
	require.NotEmpty(t, set.Cycles())
}

func TestTopologicalSortOrdersDependenciesBeforeDependents(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "libbase.so", elftest.Builder{Soname: "libbase.so"})
	write(t, dir, "libmid.so", elftest.Builder{
		Soname: "libmid.so", Needed: []string{"libbase.so"}, RunPath: "$ORIGIN",
	})
	subjectPath := write(t, dir, "subject", elftest.Builder{
		Needed: []string{"libmid.so"}, RunPath: "$ORIGIN",
	})

	set := fileset.New(filepath.Join(dir, "nonexistent-ld.so.conf"))
	_, err := set.AddFile(subjectPath)
	require.NoError(t, err)

	sorted := set.TopologicalSort()
	positions := make(map[string]int)
	for i, f := range sorted {
		key := f.Soname()
		if key == "" {
			key = f.Path()
		}
		positions[key] = i
	}
	require.Less(t, positions["libbase.so"], positions["libmid.so"])
	require.Less(t, positions["libmid.so"], positions[subjectPath])
}
