// Package elfimage locates dynamic symbol slots in ELF images loaded
// into a process.
package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Relocation is a dynamic relocation that refers to a named symbol.
type Relocation struct {
	Symbol  string
	Offset  uint64
	Type    uint32
	Section string
}

// Relocations returns the symbol-bearing dynamic relocations of f.
// Entries from the PLT relocation sections come first, so a symbol
// with both a PLT and a GOT slot reports its PLT slot.
func Relocations(f *elf.File) ([]Relocation, error) {
	syms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read dynamic symbols: %w", err)
	}

	var sections []*elf.Section
	for _, s := range f.Sections {
		if (s.Type == elf.SHT_RELA || s.Type == elf.SHT_REL) && s.Flags&elf.SHF_ALLOC != 0 {
			sections = append(sections, s)
		}
	}
	sort.SliceStable(sections, func(i, j int) bool {
		return isPLT(sections[i]) && !isPLT(sections[j])
	})

	var out []Relocation
	for _, s := range sections {
		rels, err := readSection(f, s, syms)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.Name, err)
		}
		out = append(out, rels...)
	}
	return out, nil
}

// FindRelocation returns the first relocation for symbol.
func FindRelocation(f *elf.File, symbol string) (Relocation, bool, error) {
	rels, err := Relocations(f)
	if err != nil {
		return Relocation{}, false, err
	}
	for _, r := range rels {
		if r.Symbol == symbol {
			return r, true, nil
		}
	}
	return Relocation{}, false, nil
}

func isPLT(s *elf.Section) bool {
	return strings.HasSuffix(s.Name, ".plt")
}

func readSection(f *elf.File, s *elf.Section, syms []elf.Symbol) ([]Relocation, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(data)

	var out []Relocation
	add := func(off uint64, symIdx, typ uint32) {
		// Index 0 is the undefined symbol; DynamicSymbols omits it.
		if symIdx == 0 || int(symIdx) > len(syms) {
			return
		}
		name := syms[symIdx-1].Name
		if name == "" {
			return
		}
		out = append(out, Relocation{Symbol: name, Offset: off, Type: typ, Section: s.Name})
	}

	for {
		var err error
		switch {
		case f.Class == elf.ELFCLASS64 && s.Type == elf.SHT_RELA:
			var rel elf.Rela64
			if err = binary.Read(r, f.ByteOrder, &rel); err == nil {
				add(rel.Off, elf.R_SYM64(rel.Info), elf.R_TYPE64(rel.Info))
			}
		case f.Class == elf.ELFCLASS64:
			var rel elf.Rel64
			if err = binary.Read(r, f.ByteOrder, &rel); err == nil {
				add(rel.Off, elf.R_SYM64(rel.Info), elf.R_TYPE64(rel.Info))
			}
		case s.Type == elf.SHT_RELA:
			var rel elf.Rela32
			if err = binary.Read(r, f.ByteOrder, &rel); err == nil {
				add(uint64(rel.Off), elf.R_SYM32(rel.Info), elf.R_TYPE32(rel.Info))
			}
		default:
			var rel elf.Rel32
			if err = binary.Read(r, f.ByteOrder, &rel); err == nil {
				add(uint64(rel.Off), elf.R_SYM32(rel.Info), elf.R_TYPE32(rel.Info))
			}
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// LoadBias returns the difference between the runtime address of an
// image and the virtual addresses recorded in its program headers,
// given the start and file offset of one of its mappings.
func LoadBias(mapStart, mapOffset uintptr, progs []*elf.Prog) (uintptr, error) {
	for _, p := range progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		align := p.Align
		if align == 0 {
			align = 1
		}
		segOff := p.Off &^ (align - 1)
		segEnd := (p.Off + p.Filesz + align - 1) &^ (align - 1)
		if uint64(mapOffset) < segOff || uint64(mapOffset) >= segEnd {
			continue
		}
		vaddr := (p.Vaddr &^ (align - 1)) + (uint64(mapOffset) - segOff)
		return mapStart - uintptr(vaddr), nil
	}
	return 0, fmt.Errorf("no loadable segment covers file offset %#x", mapOffset)
}
