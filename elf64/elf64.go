// Package elf64 loads the hypervisor's own relocatable runtime image:
// exactly one PT_LOAD segment plus R_X86_64_RELATIVE-only relocations,
// the shape GRUB2 hands off as the "vmm.bin" Multiboot module.
package elf64

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
)

var (
	// ErrWrongMachine is fatal: the image was not built for x86-64.
	ErrWrongMachine = errors.New("elf64: e_machine is not x86_64")

	// ErrSegmentCount is fatal: this loader only understands a
	// single-segment kernel image.
	ErrSegmentCount = errors.New("elf64: expected exactly one PT_LOAD segment")

	// ErrRelocKind is fatal: any relocation type other than
	// R_X86_64_RELATIVE is unsupported.
	ErrRelocKind = errors.New("elf64: unsupported relocation type")

	// ErrNegativeAddend is fatal per spec: only non-negative addends
	// are supported for R_X86_64_RELATIVE.
	ErrNegativeAddend = errors.New("elf64: negative relocation addend")
)

// Image wraps a parsed ELF64 file and its single PT_LOAD segment.
type Image struct {
	file *elf.File
	raw  []byte
	load *elf.Prog
}

// Open parses raw as an ELF64 x86-64 image with exactly one PT_LOAD
// program header, validating it up front so Size/Align/Entry/Load never
// need to re-check preconditions.
func Open(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("elf64: %w", err)
	}

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return nil, ErrWrongMachine
	}

	var load *elf.Prog

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}

		if load != nil {
			return nil, ErrSegmentCount
		}

		load = p
	}

	if load == nil {
		return nil, ErrSegmentCount
	}

	return &Image{file: f, raw: raw, load: load}, nil
}

// Size returns the number of bytes the loaded image occupies in guest
// memory: p_memsz of the sole PT_LOAD segment.
func (img *Image) Size() uint64 { return img.load.Memsz }

// Align returns the segment's required alignment, with a floor of 16
// bytes when the program header reports p_align < 2 (spec.md §4.1).
func (img *Image) Align() uint64 {
	if img.load.Align < 2 {
		return 16
	}

	return img.load.Align
}

// Entry returns the image's ELF entry point, relative to the load
// segment's p_vaddr (callers add the chosen base themselves, exactly
// the way machine.go's LoadLinux resolves kernel entry).
func (img *Image) Entry() uint64 { return img.file.Entry }

// relocation is a minimal R_X86_64_RELATIVE record: write
// *(base+Offset) = base+Addend.
type relocation struct {
	Offset uint64
	Addend int64
}

// relocations extracts every RELA entry this loader supports, failing
// fatally on anything else.
func (img *Image) relocations() ([]relocation, error) {
	var out []relocation

	for _, sec := range img.file.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}

		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("elf64: reading %s: %w", sec.Name, err)
		}

		const relaEntSize = 24

		for off := 0; off+relaEntSize <= len(data); off += relaEntSize {
			info := le64(data[off+8:])
			r := elf.R_X86_64(uint32(info)) // low 32 bits of r_info carry the type on ELF64

			if r != elf.R_X86_64_RELATIVE {
				return nil, fmt.Errorf("%w: %s", ErrRelocKind, r)
			}

			addend := int64(le64(data[off+16:]))
			if addend < 0 {
				return nil, ErrNegativeAddend
			}

			out = append(out, relocation{Offset: le64(data[off:]), Addend: addend})
		}
	}

	return out, nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

// Load copies p_filesz bytes of the PT_LOAD segment into dst at
// p_vaddr, zero-fills the remaining p_memsz-p_filesz bytes, then
// applies every R_X86_64_RELATIVE relocation against base. dst must be
// at least base-relative Size() bytes, addressed so dst[0] == base.
func (img *Image) Load(dst []byte, base uint64) error {
	p := img.load

	if p.Filesz > 0 {
		segment := make([]byte, p.Filesz)
		if _, err := p.ReaderAt.ReadAt(segment, 0); err != nil {
			return fmt.Errorf("elf64: reading PT_LOAD segment: %w", err)
		}

		copy(dst[p.Vaddr:], segment)
	}

	for i := p.Vaddr + p.Filesz; i < p.Vaddr+p.Memsz; i++ {
		dst[i] = 0
	}

	relocs, err := img.relocations()
	if err != nil {
		return err
	}

	for _, r := range relocs {
		target := base + uint64(r.Addend)

		var buf [8]byte
		for i := range buf {
			buf[i] = byte(target >> (8 * i))
		}

		copy(dst[r.Offset:], buf[:])
	}

	return nil
}
