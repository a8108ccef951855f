package elfmeta

import (
	"debug/elf"

	"github.com/jamestiotio/depcheck/elfdep/bytesview"
)

// versionHiddenBit marks a version index as not visible for symbol
// resolution outside the object that defines it (GNU extension).
const versionHiddenBit = uint16(0x8000)

const (
	verNdxLocal  = uint16(0) // excluded from export matching
	verNdxGlobal = uint16(1) // matches any version requirement
)

// Symbol is one dynamic-symbol-table entry, enriched with its resolved
// GNU version name.
type Symbol struct {
	Name         string
	Bind         elf.SymBind
	Type         elf.SymType
	Section      elf.SectionIndex
	Visibility   elf.SymVis
	VersionIndex uint16
	VersionName  string
	Hidden       bool
}

// Versioned reports whether the symbol carries meaningful version
// information (i.e. anything beyond the global/no-version default).
func (s Symbol) Versioned() bool {
	return s.VersionIndex != verNdxLocal && s.VersionIndex != verNdxGlobal
}

// IsImported reports whether s is a UND symbol this file expects some
// other object to provide.
func (s Symbol) IsImported() bool {
	return s.Section == elf.SHN_UNDEF && (s.Bind == elf.STB_GLOBAL || s.Bind == elf.STB_WEAK)
}

// IsExported reports whether s is a definition this file makes available
// to others, following spec.md's export predicate exactly: defined,
// global or weak, default or protected visibility, and neither locally
// scoped nor hidden by versioning.
func (s Symbol) IsExported() bool {
	if s.Section == elf.SHN_UNDEF {
		return false
	}
	if s.Bind != elf.STB_GLOBAL && s.Bind != elf.STB_WEAK {
		return false
	}
	if s.Visibility != elf.STV_DEFAULT && s.Visibility != elf.STV_PROTECTED {
		return false
	}
	if s.VersionIndex == verNdxLocal {
		return false
	}
	if s.Hidden {
		return false
	}
	return true
}

// DynamicSymbols returns the dynamic symbol table, computed and memoised
// on first use. The returned slice must not be mutated.
func (f *File) DynamicSymbols() ([]Symbol, error) {
	f.symOnce.Do(func() {
		f.symbols, f.symErr = f.buildDynamicSymbols()
	})
	return f.symbols, f.symErr
}

func (f *File) buildDynamicSymbols() ([]Symbol, error) {
	raw, err := f.ef.DynamicSymbols()
	if err != nil {
		if err == elf.ErrNoSymbols {
			return nil, nil
		}
		return nil, bytesview.CorruptError(f.Path(), err)
	}

	versyms, err := f.readVersyms(len(raw) + 1)
	if err != nil {
		return nil, err
	}

	if err := f.ensureVersionTables(); err != nil {
		return nil, err
	}

	out := make([]Symbol, len(raw))
	for i, sym := range raw {
		s := Symbol{
			Name:       sym.Name,
			Bind:       elf.ST_BIND(sym.Info),
			Type:       elf.ST_TYPE(sym.Info),
			Section:    sym.Section,
			Visibility: elf.ST_VISIBILITY(sym.Other),
			// without a .gnu.version entry a symbol is unversioned, which
			// is VER_NDX_GLOBAL rather than VER_NDX_LOCAL
			VersionIndex: verNdxGlobal,
		}
		// index 0 of .dynsym is the reserved STN_UNDEF entry; debug/elf's
		// DynamicSymbols already omits it, so raw[i] corresponds to
		// versym[i+1].
		if versyms != nil && i+1 < len(versyms) {
			vs := versyms[i+1]
			s.Hidden = vs&versionHiddenBit != 0
			s.VersionIndex = vs &^ versionHiddenBit
		}
		s.VersionName = f.resolveVersionName(s)
		out[i] = s
	}
	return out, nil
}

func (f *File) readVersyms(count int) ([]uint16, error) {
	sh := f.ef.Section(".gnu.version")
	if sh == nil {
		return nil, nil
	}
	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		v, err := f.view.Uint16At(int(sh.Offset) + 2*i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// resolveVersionName maps a symbol's version index to a name using its
// own definitions (verdef, for exported symbols) or its requirements
// (verneed, for imported symbols), per spec.md 4.C.
func (f *File) resolveVersionName(s Symbol) string {
	if s.VersionIndex == verNdxLocal || s.VersionIndex == verNdxGlobal {
		return ""
	}
	if name, ok := f.verdefByIdx[s.VersionIndex]; ok {
		return name
	}
	for _, vn := range f.verneed {
		for _, aux := range vn.Versions {
			if aux.Index == s.VersionIndex {
				return aux.Name
			}
		}
	}
	return ""
}

// VerneedEntries returns the parsed .gnu.version_r requirements: which
// libraries this file requires specific symbol versions from.
func (f *File) VerneedEntries() ([]VerneedEntry, error) {
	if err := f.ensureVersionTables(); err != nil {
		return nil, err
	}
	return f.verneed, nil
}
