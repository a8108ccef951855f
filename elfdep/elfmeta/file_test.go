package elfmeta_test

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamestiotio/depcheck/elfdep/elfmeta"
	"github.com/jamestiotio/depcheck/elfdep/internal/elftest"
)

func writeELF(t *testing.T, dir, name string, b elftest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Build(), 0o644))
	return path
}

func TestLoadHeaderAndDynamicFields(t *testing.T) {
	dir := t.TempDir()
	path := writeELF(t, dir, "libfoo.so", elftest.Builder{
		Soname:  "libfoo.so.1",
		Needed:  []string{"libc.so.6", "libm.so.6"},
		RunPath: "$ORIGIN/lib",
	})

	f, err := elfmeta.Load(path)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, elf.ELFCLASS64, f.Class())
	require.Equal(t, "libfoo.so.1", f.Soname())
	require.Equal(t, []string{"libc.so.6", "libm.so.6"}, f.Needed())
	require.Equal(t, []string{"$ORIGIN/lib"}, f.RunPath())
}

func TestRunPathFallsBackToLegacyRPath(t *testing.T) {
	dir := t.TempDir()
	path := writeELF(t, dir, "a.so", elftest.Builder{
		RPath: "/opt/lib:/opt/lib2",
	})

	f, err := elfmeta.Load(path)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"/opt/lib", "/opt/lib2"}, f.RunPath())
}

func TestRunPathTakesPrecedenceOverRPath(t *testing.T) {
	dir := t.TempDir()
	path := writeELF(t, dir, "a.so", elftest.Builder{
		RPath:   "/legacy",
		RunPath: "/modern",
	})

	f, err := elfmeta.Load(path)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"/modern"}, f.RunPath())
}

func TestZeroNeededYieldsEmptyList(t *testing.T) {
	dir := t.TempDir()
	path := writeELF(t, dir, "a.so", elftest.Builder{Soname: "a.so"})

	f, err := elfmeta.Load(path)
	require.NoError(t, err)
	defer f.Close()

	require.Empty(t, f.Needed())
}

func TestLoadRejectsNonELF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-elf")
	require.NoError(t, os.WriteFile(path, []byte("not an elf file at all"), 0o644))

	_, err := elfmeta.Load(path)
	require.Error(t, err)
}

func TestLoadReportsIoErrorForMissingFile(t *testing.T) {
	_, err := elfmeta.Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
