// Package elftest hand-assembles minimal ELF64 little-endian shared
// objects for tests, since no real binaries are available to check into
// the repository. It only writes what elfdep needs to read: a dynamic
// section, a dynamic symbol table, and the GNU version tables.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Sym describes one entry to add to .dynsym (index 0, the reserved
// undefined entry, is added automatically and need not be listed).
type Sym struct {
	Name    string
	Bind    elf.SymBind
	Type    elf.SymType
	Shndx   uint16 // elf.SHN_UNDEF for imports, 1 (a dummy defined section) for exports
	Version uint16 // 0 = none, 1 = VER_NDX_GLOBAL, otherwise an index defined via VerDef/VerNeed
	Hidden  bool
}

// VernauxSpec is one version an object requires from a single needed file.
type VernauxSpec struct {
	Name  string
	Index uint16 // matches the Version field of importing Syms
}

// VerneedSpec is one DT_NEEDED library's version requirements.
type VerneedSpec struct {
	File string
	Aux  []VernauxSpec
}

// VerdefSpec is one version definition an object exports for a given
// version index.
type VerdefSpec struct {
	Index uint16 // matches the Version field of exporting Syms
	Names []string
	Base  bool // VER_FLG_BASE
}

// Builder assembles one ELF64 LE shared object byte-for-byte.
type Builder struct {
	Soname  string
	Needed  []string
	RPath   string
	RunPath string
	Filters []string // DT_FILTER entries
	Symbols []Sym
	Verneed []VerneedSpec
	Verdef  []VerdefSpec
}

const (
	ehsize = 64
	shsize = 64 // Elf64_Shdr
	symsz  = 24 // Elf64_Sym
	dynsz  = 16 // Elf64_Dyn
)

type strtab struct {
	buf []byte
	off map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{buf: []byte{0}, off: map[string]uint32{"": 0}}
}

func (s *strtab) add(name string) uint32 {
	if off, ok := s.off[name]; ok {
		return off
	}
	off := uint32(len(s.buf))
	s.buf = append(s.buf, []byte(name)...)
	s.buf = append(s.buf, 0)
	s.off[name] = off
	return off
}

type section struct {
	name      string
	typ       elf.SectionType
	link      uint32
	info      uint32
	entsize   uint64
	data      []byte
	addralign uint64
}

// Build returns the raw bytes of the shared object.
func (b *Builder) Build() []byte {
	dynstr := newStrtab()
	shstr := newStrtab()

	dynstr.add(b.Soname)
	for _, n := range b.Needed {
		dynstr.add(n)
	}
	if b.RPath != "" {
		dynstr.add(b.RPath)
	}
	if b.RunPath != "" {
		dynstr.add(b.RunPath)
	}
	for _, f := range b.Filters {
		dynstr.add(f)
	}
	for _, vn := range b.Verneed {
		dynstr.add(vn.File)
		for _, aux := range vn.Aux {
			dynstr.add(aux.Name)
		}
	}
	for _, vd := range b.Verdef {
		for _, name := range vd.Names {
			dynstr.add(name)
		}
	}

	dynsymData := buildDynsym(b.Symbols, dynstr)
	versymData := buildVersym(b.Symbols)
	verneedData, verneedCount := buildVerneed(b.Verneed, dynstr)
	verdefData, verdefCount := buildVerdef(b.Verdef, dynstr)
	dynamicData := buildDynamic(b, dynstr)

	var sections []section
	sections = append(sections, section{}) // SHN_UNDEF
	dynstrIdx := len(sections)
	sections = append(sections, section{name: ".dynstr", typ: elf.SHT_STRTAB, data: dynstr.buf, addralign: 1})
	dynsymIdx := len(sections)
	sections = append(sections, section{name: ".dynsym", typ: elf.SHT_DYNSYM, link: uint32(dynstrIdx), entsize: symsz, data: dynsymData, addralign: 8})
	if len(versymData) > 0 {
		sections = append(sections, section{name: ".gnu.version", typ: elf.SHT_GNU_VERSYM, link: uint32(dynsymIdx), entsize: 2, data: versymData, addralign: 2})
	}
	if len(verneedData) > 0 {
		sections = append(sections, section{name: ".gnu.version_r", typ: elf.SHT_GNU_VERNEED, link: uint32(dynstrIdx), info: uint32(verneedCount), data: verneedData, addralign: 4})
	}
	if len(verdefData) > 0 {
		sections = append(sections, section{name: ".gnu.version_d", typ: elf.SHT_GNU_VERDEF, link: uint32(dynstrIdx), info: uint32(verdefCount), data: verdefData, addralign: 4})
	}
	sections = append(sections, section{name: ".dynamic", typ: elf.SHT_DYNAMIC, link: uint32(dynstrIdx), entsize: dynsz, data: dynamicData, addralign: 8})

	for i := range sections {
		if i == 0 {
			continue
		}
		shstr.add(sections[i].name)
	}
	shstrIdx := len(sections)
	shstr.add(".shstrtab")
	sections = append(sections, section{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstr.buf, addralign: 1})

	var body bytes.Buffer
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		if i == 0 {
			continue
		}
		if s.addralign > 1 {
			for uint64(body.Len())%s.addralign != 0 {
				body.WriteByte(0)
			}
		}
		offsets[i] = uint64(ehsize) + uint64(body.Len())
		body.Write(s.data)
	}

	shoff := uint64(ehsize) + uint64(body.Len())

	var out bytes.Buffer
	writeHeader(&out, shoff, uint16(len(sections)), uint16(shstrIdx))
	out.Write(body.Bytes())

	for i, s := range sections {
		nameOff := uint32(0)
		if i != 0 {
			nameOff = shstr.off[s.name]
		}
		writeSectionHeader(&out, nameOff, s.typ, offsets[i], uint64(len(s.data)), s.link, s.info, s.addralign, s.entsize)
	}

	return out.Bytes()
}

func writeHeader(out *bytes.Buffer, shoff uint64, shnum, shstrndx uint16) {
	var ident [16]byte
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	out.Write(ident[:])

	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); out.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); out.Write(b[:]) }
	put64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); out.Write(b[:]) }

	put16(uint16(elf.ET_DYN))
	put16(uint16(elf.EM_X86_64))
	put32(uint32(elf.EV_CURRENT))
	put64(0) // e_entry
	put64(0) // e_phoff
	put64(shoff)
	put32(0)          // e_flags
	put16(ehsize)     // e_ehsize
	put16(0)          // e_phentsize
	put16(0)          // e_phnum
	put16(shsize)     // e_shentsize
	put16(shnum)      // e_shnum
	put16(shstrndx)   // e_shstrndx
}

func writeSectionHeader(out *bytes.Buffer, name uint32, typ elf.SectionType, off, size uint64, link, info uint32, align, entsize uint64) {
	le := binary.LittleEndian
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); out.Write(b[:]) }
	put64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); out.Write(b[:]) }

	put32(name)
	put32(uint32(typ))
	put64(0) // sh_flags
	put64(0) // sh_addr
	put64(off)
	put64(size)
	put32(link)
	put32(info)
	put64(align)
	put64(entsize)
}

func buildDynsym(syms []Sym, dynstr *strtab) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	writeSym := func(name uint32, info, other byte, shndx uint16, value, size uint64) {
		var b [symsz]byte
		le.PutUint32(b[0:4], name)
		b[4] = info
		b[5] = other
		le.PutUint16(b[6:8], shndx)
		le.PutUint64(b[8:16], value)
		le.PutUint64(b[16:24], size)
		buf.Write(b[:])
	}
	writeSym(0, 0, 0, 0, 0, 0) // STN_UNDEF
	for _, s := range syms {
		info := byte(s.Bind)<<4 | byte(s.Type)&0xf
		writeSym(dynstr.add(s.Name), info, 0, s.Shndx, 0, 0)
	}
	return buf.Bytes()
}

func buildVersym(syms []Sym) []byte {
	hasVersions := false
	for _, s := range syms {
		if s.Version != 0 || s.Hidden {
			hasVersions = true
			break
		}
	}
	if !hasVersions {
		return nil
	}
	le := binary.LittleEndian
	buf := make([]byte, 2*(len(syms)+1))
	for i, s := range syms {
		v := s.Version
		if v == 0 {
			v = 1 // VER_NDX_GLOBAL: plain, matches any requirement
		}
		if s.Hidden {
			v |= 0x8000
		}
		le.PutUint16(buf[2*(i+1):], v)
	}
	return buf
}

func buildVerneed(specs []VerneedSpec, dynstr *strtab) ([]byte, int) {
	if len(specs) == 0 {
		return nil, 0
	}
	var buf bytes.Buffer
	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }

	for i, vn := range specs {
		vnStart := buf.Len()
		put16(1) // vn_version
		put16(uint16(len(vn.Aux)))
		put32(dynstr.add(vn.File)) // vn_file
		put32(16)                  // vn_aux, relative to vnStart
		if i == len(specs)-1 {
			put32(0)
		} else {
			put32(uint32(16 + 16*len(vn.Aux))) // vn_next -> next Verneed
		}
		for j, aux := range vn.Aux {
			put32(elfHash(aux.Name)) // vna_hash
			put16(0)                 // vna_flags
			put16(aux.Index)         // vna_other
			put32(dynstr.add(aux.Name))
			if j == len(vn.Aux)-1 {
				put32(0)
			} else {
				put32(16)
			}
		}
		_ = vnStart
	}
	return buf.Bytes(), len(specs)
}

func buildVerdef(specs []VerdefSpec, dynstr *strtab) ([]byte, int) {
	if len(specs) == 0 {
		return nil, 0
	}
	var buf bytes.Buffer
	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }

	for i, vd := range specs {
		flags := uint16(0)
		if vd.Base {
			flags = 1 // VER_FLG_BASE
		}
		put16(1) // vd_version
		put16(flags)
		put16(vd.Index)
		put16(uint16(len(vd.Names)))
		put32(elfHash(vd.Names[0])) // vd_hash
		put32(20)                   // vd_aux, relative to this entry
		if i == len(specs)-1 {
			put32(0)
		} else {
			put32(uint32(20 + 8*len(vd.Names)))
		}
		for j, name := range vd.Names {
			put32(dynstr.add(name))
			if j == len(vd.Names)-1 {
				put32(0)
			} else {
				put32(8)
			}
		}
	}
	return buf.Bytes(), len(specs)
}

func buildDynamic(b *Builder, dynstr *strtab) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	putDyn := func(tag elf.DynTag, val uint64) {
		var e [dynsz]byte
		le.PutUint64(e[0:8], uint64(tag))
		le.PutUint64(e[8:16], val)
		buf.Write(e[:])
	}
	if b.Soname != "" {
		putDyn(elf.DT_SONAME, uint64(dynstr.add(b.Soname)))
	}
	for _, n := range b.Needed {
		putDyn(elf.DT_NEEDED, uint64(dynstr.add(n)))
	}
	if b.RPath != "" {
		putDyn(elf.DT_RPATH, uint64(dynstr.add(b.RPath)))
	}
	if b.RunPath != "" {
		putDyn(elf.DT_RUNPATH, uint64(dynstr.add(b.RunPath)))
	}
	for _, f := range b.Filters {
		putDyn(elf.DT_FILTER, uint64(dynstr.add(f)))
	}
	putDyn(elf.DT_NULL, 0)
	return buf.Bytes()
}

// elfHash implements the classic SysV ELF string hash used by verdef and
// verneed entries. Its exact value is never validated by consumers here,
// but real linkers populate it and readers may sanity-check it.
func elfHash(s string) uint32 {
	var h, g uint32
	for i := 0; i < len(s); i++ {
		h = (h << 4) + uint32(s[i])
		if g = h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= g
	}
	return h
}
