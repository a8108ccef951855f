// Package elfmeta parses the structural and symbol-level information the
// dependency analyser needs out of an ELF file: header, dynamic entries,
// dynamic symbols, and GNU symbol versioning. It wraps the standard
// library's debug/elf for header/section/program-header parsing and adds
// the pieces debug/elf does not expose: an ordered dynamic-tag list and
// GNU version tables, read directly off the mapped bytes.
package elfmeta

import (
	"debug/elf"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jamestiotio/depcheck/elfdep/bytesview"
)

// DynEntry is one (tag, value) pair from the .dynamic section, in file
// order. Order matters: DT_NEEDED order drives symbol-resolution
// precedence in the analyser.
type DynEntry struct {
	Tag elf.DynTag
	Val uint64
}

// File is a loaded, immutable ELF object.
type File struct {
	view *bytesview.View
	ef   *elf.File

	soname    string
	needed    []string
	rpath     string
	runpath   []string
	filters   []string
	auxiliary []string
	dynamic   []DynEntry

	sectionNames []string

	symOnce sync.Once
	symbols []Symbol
	symErr  error

	verOnce     sync.Once
	verdefByIdx map[uint16]string
	verneed     []VerneedEntry
	verErr      error
}

// VerneedEntry mirrors one .gnu.version_r Verneed/Vernaux chain: the
// versions a file requires from one named dependency.
type VerneedEntry struct {
	File     string // vn_file: the SONAME the version must come from
	Versions []VernauxEntry
}

// VernauxEntry is one required version within a VerneedEntry.
type VernauxEntry struct {
	Name  string
	Index uint16
}

// Load memory-maps path and parses it as an ELF object.
func Load(path string) (*File, error) {
	view, err := bytesview.Open(path)
	if err != nil {
		return nil, err
	}

	ef, err := elf.NewFile(sliceReaderAt(view.Bytes()))
	if err != nil {
		_ = view.Close()
		return nil, bytesview.CorruptError(path, err)
	}

	f := &File{view: view, ef: ef}
	if err := f.parseDynamic(); err != nil {
		_ = view.Close()
		return nil, err
	}
	for _, s := range ef.Sections {
		f.sectionNames = append(f.sectionNames, s.Name)
	}
	return f, nil
}

// Close releases the underlying mapped memory. All Symbols, DynEntries,
// etc. derived from this File must not be used afterwards.
func (f *File) Close() error {
	return f.view.Close()
}

func (f *File) Path() string { return f.view.Path() }

func (f *File) Class() elf.Class { return f.view.Class() }

func (f *File) Type() elf.Type { return f.ef.Type }

func (f *File) Machine() elf.Machine { return f.ef.Machine }

// Soname is empty when the file carries no DT_SONAME (typical of
// executables, as opposed to shared libraries).
func (f *File) Soname() string { return f.soname }

// Needed is the ordered DT_NEEDED list; order is significant for
// symbol-resolution precedence.
func (f *File) Needed() []string { return f.needed }

// RunPath returns DT_RUNPATH if present, else DT_RPATH (legacy),
// already split on ':'. The caller does not need to know which tag won.
func (f *File) RunPath() []string {
	return f.runpath
}

// Filters returns DT_FILTER/DT_AUXILIARY library names: filter objects
// whose exported symbols are meant to be satisfied elsewhere.
func (f *File) Filters() []string { return append(append([]string{}, f.filters...), f.auxiliary...) }

// DynEntries returns the ordered (tag, value) list of the dynamic
// section, unknown tags included (and ignored by every consumer but the
// caller, per spec).
func (f *File) DynEntries() []DynEntry { return f.dynamic }

// SectionNames lists every section header name found, satisfying the
// structural-parser's obligation to locate sections even when the
// dependency analyser itself never inspects most of them.
func (f *File) SectionNames() []string { return f.sectionNames }

// Progs returns the raw program headers, for callers (e.g. a future
// base-address resolver) that need segment layout; the analyser itself
// does not use them.
func (f *File) Progs() []elf.ProgHeader {
	out := make([]elf.ProgHeader, len(f.ef.Progs))
	for i, p := range f.ef.Progs {
		out[i] = p.ProgHeader
	}
	return out
}

func (f *File) parseDynamic() error {
	sh := f.ef.Section(".dynamic")
	if sh == nil {
		return nil // static or no dynamic section: valid, just nothing to report
	}
	dynstrSh := f.ef.Section(".dynstr")

	entrySize := 8 // Elf32_Dyn: Sword + Word
	if f.view.Class() == elf.ELFCLASS64 {
		entrySize = 16
	}

	raw, err := f.view.SliceAt(int(sh.Offset), int(sh.Size))
	if err != nil {
		return errors.WithStack(err)
	}

	str := func(off uint64) (string, error) {
		if dynstrSh == nil {
			return "", bytesview.CorruptError(f.Path(), fmt.Errorf("no .dynstr section to resolve dynamic string at %d", off))
		}
		return f.view.CString(int(dynstrSh.Offset) + int(off))
	}

	for pos := 0; pos+entrySize <= len(raw); pos += entrySize {
		var tag elf.DynTag
		var val uint64
		if entrySize == 16 {
			t, err := f.view.Uint64At(int(sh.Offset) + pos)
			if err != nil {
				return errors.WithStack(err)
			}
			v, err := f.view.Uint64At(int(sh.Offset) + pos + 8)
			if err != nil {
				return errors.WithStack(err)
			}
			tag, val = elf.DynTag(int64(t)), v
		} else {
			t, err := f.view.Uint32At(int(sh.Offset) + pos)
			if err != nil {
				return errors.WithStack(err)
			}
			v, err := f.view.Uint32At(int(sh.Offset) + pos + 4)
			if err != nil {
				return errors.WithStack(err)
			}
			tag, val = elf.DynTag(int32(t)), uint64(v)
		}
		if tag == elf.DT_NULL {
			break
		}
		f.dynamic = append(f.dynamic, DynEntry{Tag: tag, Val: val})

		switch tag {
		case elf.DT_SONAME:
			s, err := str(val)
			if err != nil {
				return err
			}
			f.soname = s
		case elf.DT_NEEDED:
			s, err := str(val)
			if err != nil {
				return err
			}
			f.needed = append(f.needed, s)
		case elf.DT_RPATH:
			s, err := str(val)
			if err != nil {
				return err
			}
			f.rpath = s
		case elf.DT_RUNPATH:
			s, err := str(val)
			if err != nil {
				return err
			}
			f.runpath = splitColon(s)
		case elf.DT_FILTER:
			s, err := str(val)
			if err != nil {
				return err
			}
			f.filters = append(f.filters, s)
		case elf.DT_AUXILIARY:
			s, err := str(val)
			if err != nil {
				return err
			}
			f.auxiliary = append(f.auxiliary, s)
		}
	}

	// DT_RUNPATH takes precedence; DT_RPATH is only consulted when it is
	// absent (spec.md's search-path composition rule).
	if len(f.runpath) == 0 && f.rpath != "" {
		f.runpath = splitColon(f.rpath)
	}
	return nil
}

func splitColon(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ":")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sliceReaderAt adapts a byte slice to io.ReaderAt without copying.
type sliceReaderAt []byte

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at offset %d", off)
	}
	return n, nil
}
