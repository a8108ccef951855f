// Package fileset resolves and owns the transitive closure of ELF
// dependencies reachable from one or more root files, using the same
// search-order rules as the dynamic linker, and offers a dependency-first
// topological ordering over the resulting graph.
package fileset

import (
	"debug/elf"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jamestiotio/depcheck/elfdep/elfmeta"
	"github.com/jamestiotio/depcheck/elfdep/ldconfig"
)

// Cycle names one edge dropped by TopologicalSort because following it
// would revisit a file already on the current DFS stack.
type Cycle struct {
	From string // SONAME (or path) of the file that declares the need
	To   string // SONAME (or path) of the dependency that would close the cycle
}

// Stats summarises one Set's resolution activity, useful for diagnostics
// and for the reporter's verbose mode.
type Stats struct {
	FilesLoaded      int
	CacheHits        int
	UnresolvedCount  int
	CorruptCount     int
	CyclesBroken     int
}

// Set is an ordered collection of loaded Files with a SONAME index. Files
// are owned by the Set and referenced by index, never by pointer identity
// held elsewhere, so that cyclic dependency graphs cost nothing to store.
type Set struct {
	files    []*elfmeta.File
	bySoname map[string]int
	byPath   map[string]int

	unresolved map[string]bool  // sonames the resolver could not locate anywhere
	corrupt    map[string]error // sonames located on disk but that failed to parse

	ldconfigPath string
	ldconfigDirs []string
	ldconfigOnce bool

	loading map[string]bool // sonames currently on the load stack, cycle guard

	cycles []Cycle
	stats  Stats
}

// New returns an empty Set. ldconfigPath overrides /etc/ld.so.conf, which
// is otherwise consulted by default; pass "" for the default.
func New(ldconfigPath string) *Set {
	if ldconfigPath == "" {
		ldconfigPath = ldconfig.DefaultConfigPath
	}
	return &Set{
		bySoname:     make(map[string]int),
		byPath:       make(map[string]int),
		unresolved:   make(map[string]bool),
		corrupt:      make(map[string]error),
		loading:      make(map[string]bool),
		ldconfigPath: ldconfigPath,
	}
}

// AddFile loads path and, transitively, every DT_NEEDED dependency it can
// locate. Loading the same SONAME twice is a no-op; the first file to
// register wins per SONAME.
func (s *Set) AddFile(path string) (*elfmeta.File, error) {
	return s.load(path, nil)
}

// File returns the file at position index in add order, or nil if out of
// range.
func (s *Set) File(index int) *elfmeta.File {
	if index < 0 || index >= len(s.files) {
		return nil
	}
	return s.files[index]
}

// FileBySoname looks up a previously registered file by its SONAME.
func (s *Set) FileBySoname(name string) *elfmeta.File {
	if i, ok := s.bySoname[name]; ok {
		return s.files[i]
	}
	return nil
}

// Files returns every loaded file, in add order. The slice must not be
// mutated.
func (s *Set) Files() []*elfmeta.File { return s.files }

// Unresolved reports whether name was requested as a dependency but never
// located on any search path.
func (s *Set) Unresolved(name string) bool { return s.unresolved[name] }

// UnresolvedNames returns every SONAME that was requested but never
// located, in no particular order.
func (s *Set) UnresolvedNames() []string {
	out := make([]string, 0, len(s.unresolved))
	for n := range s.unresolved {
		out = append(out, n)
	}
	return out
}

// CorruptError returns the load error recorded for name if it was located
// on the search path but failed to parse as an ELF object, and reports
// whether one was recorded at all.
func (s *Set) CorruptError(name string) (error, bool) {
	err, ok := s.corrupt[name]
	return err, ok
}

// Cycles returns every dependency edge TopologicalSort dropped to break a
// cycle. It is only populated after TopologicalSort runs.
func (s *Set) Cycles() []Cycle { return s.cycles }

// Stats returns a snapshot of this set's resolution activity so far.
func (s *Set) Stats() Stats { return s.stats }

func (s *Set) register(f *elfmeta.File) int {
	idx := len(s.files)
	s.files = append(s.files, f)
	s.byPath[f.Path()] = idx
	if soname := f.Soname(); soname != "" {
		if _, exists := s.bySoname[soname]; !exists {
			s.bySoname[soname] = idx
		}
	}
	return idx
}

// load loads path (a subject or a resolved dependency) and recursively
// its own DT_NEEDED list. runpathStack carries the run path returned by
// elfmeta.File.RunPath (DT_RUNPATH, or DT_RPATH when that is absent) of
// every ancestor still on the load stack, per spec.md 4.D step 2's legacy
// fallback rule.
func (s *Set) load(path string, runpathStack []string) (*elfmeta.File, error) {
	if idx, ok := s.byPath[path]; ok {
		s.stats.CacheHits++
		return s.files[idx], nil
	}

	f, err := elfmeta.Load(path)
	if err != nil {
		return nil, err
	}
	if soname := f.Soname(); soname != "" {
		if idx, ok := s.bySoname[soname]; ok {
			_ = f.Close()
			s.stats.CacheHits++
			return s.files[idx], nil
		}
	}
	s.stats.FilesLoaded++
	s.register(f)

	key := f.Soname()
	if key == "" {
		key = f.Path()
	}
	if s.loading[key] {
		return f, nil
	}
	s.loading[key] = true
	defer delete(s.loading, key)

	// elfmeta.File.RunPath already folds a legacy DT_RPATH fallback into
	// the same slot DT_RUNPATH would occupy (see elfmeta/file.go), so
	// this set does not distinguish "inherits to descendants" (RPATH)
	// from "applies only here" (RUNPATH) the way ld.so does; every
	// ancestor's resolved run path is propagated uniformly. Recorded as
	// an accepted simplification in DESIGN.md.
	childStack := append(append([]string{}, runpathStack...), f.RunPath()...)

	for _, name := range f.Needed() {
		if _, ok := s.bySoname[name]; ok {
			continue
		}
		dep, found := s.resolve(name, f, runpathStack)
		if !found {
			if !s.unresolved[name] {
				s.unresolved[name] = true
				s.stats.UnresolvedCount++
			}
			continue
		}
		if _, err := s.load(dep, childStack); err != nil {
			// A located-but-unloadable file (bad magic, truncated header,
			// corrupt dynamic section) is per-dependency, not fatal to the
			// subject: record it and keep resolving the rest of the
			// NEEDED list, mirroring the unresolved-name handling above.
			if _, already := s.corrupt[name]; !already {
				s.corrupt[name] = err
				s.stats.CorruptCount++
			}
			continue
		}
	}

	return f, nil
}

// resolve implements spec.md 4.D's search order for one DT_NEEDED name
// requested by subject.
func (s *Set) resolve(name string, subject *elfmeta.File, ancestorRPaths []string) (string, bool) {
	for _, dir := range s.searchPath(subject, ancestorRPaths) {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func (s *Set) searchPath(subject *elfmeta.File, ancestorRPaths []string) []string {
	var path []string

	origin := filepath.Dir(subject.Path())
	lib := "lib"
	if subject.Class() == elf.ELFCLASS64 {
		lib = "lib64"
	}
	platform := platformName()

	if runpath := subject.RunPath(); len(runpath) > 0 {
		for _, p := range runpath {
			path = append(path, expandTokens(p, origin, lib, platform))
		}
	} else {
		for _, p := range ancestorRPaths {
			path = append(path, expandTokens(p, origin, lib, platform))
		}
	}

	if v := os.Getenv("LD_LIBRARY_PATH"); v != "" {
		for _, p := range strings.Split(v, ":") {
			if p != "" {
				path = append(path, p)
			}
		}
	}

	path = append(path, s.resolveLdconfigDirs()...)
	path = append(path, ldconfig.TrustedDirsForClass(subject.Class() == elf.ELFCLASS64)...)
	return path
}

func (s *Set) resolveLdconfigDirs() []string {
	if s.ldconfigOnce {
		return s.ldconfigDirs
	}
	s.ldconfigOnce = true
	dirs, err := ldconfig.Dirs(s.ldconfigPath)
	if err == nil {
		s.ldconfigDirs = dirs
	}
	return s.ldconfigDirs
}

func expandTokens(p, origin, lib, platform string) string {
	p = strings.ReplaceAll(p, "$ORIGIN", origin)
	p = strings.ReplaceAll(p, "${ORIGIN}", origin)
	p = strings.ReplaceAll(p, "$LIB", lib)
	p = strings.ReplaceAll(p, "${LIB}", lib)
	p = strings.ReplaceAll(p, "$PLATFORM", platform)
	p = strings.ReplaceAll(p, "${PLATFORM}", platform)
	return p
}

func platformName() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv7l"
	default:
		return runtime.GOARCH
	}
}
