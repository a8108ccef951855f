package elfmeta

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/jamestiotio/depcheck/elfdep/bytesview"
)

// ensureVersionTables parses .gnu.version_d and .gnu.version_r on first
// use; both are small, order-independent chains so eager parsing costs
// little, but memoisation follows the same lazy-once-published discipline
// as everything else derived from a File.
func (f *File) ensureVersionTables() error {
	f.verOnce.Do(func() {
		f.verdefByIdx, f.verErr = f.parseVerdef()
		if f.verErr != nil {
			return
		}
		f.verneed, f.verErr = f.parseVerneed()
	})
	return f.verErr
}

// Elf32_Verdef/Elf64_Verdef and Elf32_Verneed/Elf64_Verneed share one
// layout regardless of ELF class: they are built entirely out of Half
// and Word fields, none of which vary in size between ELF32 and ELF64.
const (
	verdefEntrySize  = 20
	verneedEntrySize = 16
	vernauxSize      = 16
)

func (f *File) parseVerdef() (map[uint16]string, error) {
	sh := f.ef.Section(".gnu.version_d")
	if sh == nil {
		return nil, nil
	}
	count := int(sh.Info)
	base := int(sh.Offset)
	result := make(map[uint16]string, count)

	pos := 0
	for i := 0; i < count; i++ {
		if pos+verdefEntrySize > int(sh.Size) {
			return nil, f.corruptTable(".gnu.version_d", pos)
		}
		vdNdx, err := f.view.Uint16At(base + pos + 4)
		if err != nil {
			return nil, err
		}
		vdAux, err := f.view.Uint32At(base + pos + 12)
		if err != nil {
			return nil, err
		}
		vdNext, err := f.view.Uint32At(base + pos + 16)
		if err != nil {
			return nil, err
		}

		auxOff := pos + int(vdAux)
		if auxOff+4 <= int(sh.Size) {
			nameOff, err := f.view.Uint32At(base + auxOff)
			if err != nil {
				return nil, err
			}
			name, err := f.dynstrAt(nameOff)
			if err != nil {
				return nil, err
			}
			result[vdNdx] = name
		}

		if vdNext == 0 {
			break
		}
		pos += int(vdNext)
	}
	return result, nil
}

func (f *File) parseVerneed() ([]VerneedEntry, error) {
	sh := f.ef.Section(".gnu.version_r")
	if sh == nil {
		return nil, nil
	}
	count := int(sh.Info)
	base := int(sh.Offset)
	var out []VerneedEntry

	pos := 0
	for i := 0; i < count; i++ {
		if pos+verneedEntrySize > int(sh.Size) {
			return nil, f.corruptTable(".gnu.version_r", pos)
		}
		vnCnt, err := f.view.Uint16At(base + pos + 2)
		if err != nil {
			return nil, err
		}
		vnFileOff, err := f.view.Uint32At(base + pos + 4)
		if err != nil {
			return nil, err
		}
		vnAux, err := f.view.Uint32At(base + pos + 8)
		if err != nil {
			return nil, err
		}
		vnNext, err := f.view.Uint32At(base + pos + 12)
		if err != nil {
			return nil, err
		}

		vnFile, err := f.dynstrAt(vnFileOff)
		if err != nil {
			return nil, err
		}

		entry := VerneedEntry{File: vnFile}
		auxPos := pos + int(vnAux)
		for j := 0; j < int(vnCnt); j++ {
			if auxPos+vernauxSize > int(sh.Size) {
				return nil, f.corruptTable(".gnu.version_r", auxPos)
			}
			vnaOther, err := f.view.Uint16At(base + auxPos + 6)
			if err != nil {
				return nil, err
			}
			vnaNameOff, err := f.view.Uint32At(base + auxPos + 8)
			if err != nil {
				return nil, err
			}
			vnaNext, err := f.view.Uint32At(base + auxPos + 12)
			if err != nil {
				return nil, err
			}
			name, err := f.dynstrAt(vnaNameOff)
			if err != nil {
				return nil, err
			}
			entry.Versions = append(entry.Versions, VernauxEntry{Name: name, Index: vnaOther})
			if vnaNext == 0 {
				break
			}
			auxPos += int(vnaNext)
		}
		out = append(out, entry)

		if vnNext == 0 {
			break
		}
		pos += int(vnNext)
	}
	return out, nil
}

func (f *File) dynstrAt(off uint32) (string, error) {
	sh := f.ef.Section(".dynstr")
	if sh == nil {
		return "", f.corruptTable(".dynstr", int(off))
	}
	return f.view.CString(int(sh.Offset) + int(off))
}

func (f *File) corruptTable(section string, pos int) error {
	return errors.WithStack(bytesview.CorruptError(f.Path(), &tableError{section: section, pos: pos}))
}

type tableError struct {
	section string
	pos     int
}

func (e *tableError) Error() string {
	return "malformed " + e.section + " entry at offset " + strconv.Itoa(e.pos)
}
