// Package multiboot parses the Multiboot v1 information structure the
// loader leaves behind: a fixed-layout header, a flags-gated memory map
// and a module list. This package is an input-only collaborator — it
// never allocates guest memory or interprets module contents itself.
package multiboot

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RegionKind classifies one BIOS memory-map entry.
type RegionKind uint32

const (
	RegionAvailable RegionKind = 1
	RegionReserved  RegionKind = 2
	RegionACPI      RegionKind = 3
	RegionNVS       RegionKind = 4
)

// MemRegion is one entry of the Multiboot memory map (mmap_*).
type MemRegion struct {
	Base   uint64
	Length uint64
	Kind   RegionKind
}

// Module is one Multiboot boot module (mods_*): a loaded file plus its
// optional name string.
type Module struct {
	Start uint64
	End   uint64
	Name  string
}

// ErrNoMemoryMap is returned when flag bit 6 (MULTIBOOT_INFO_MEM_MAP)
// is clear — the loader gave us mem_lower/mem_upper only, which this
// hypervisor's bootstrap layout treats as fatal (it needs the full
// region list to find area_end).
var ErrNoMemoryMap = errors.New("multiboot: loader did not provide a memory map")

// Info-structure flag bits this package consumes.
const (
	flagMemory  = 1 << 0
	flagMmap    = 1 << 6
	flagModules = 1 << 3
)

// rawInfo mirrors struct multiboot_info's leading fields (the v1
// layout; §6 of the spec only needs the memory and module fields).
type rawInfo struct {
	Flags      uint32
	MemLower   uint32
	MemUpper   uint32
	BootDevice uint32
	CmdLine    uint32
	ModsCount  uint32
	ModsAddr   uint32
	_          [4]uint32 // syms union, unused
	MmapLength uint32
	MmapAddr   uint32
}

type rawMmapEntry struct {
	Size    uint32
	Base    uint64
	Length  uint64
	Kind    uint32
}

type rawModule struct {
	Start   uint32
	End     uint32
	CmdLine uint32
	_       uint32
}

// Info is the parsed view callers work with: memory regions and
// modules, resolved out of guest-physical memory addressed by mem.
type Info struct {
	Regions []MemRegion
	Modules []Module
}

// Parse reads the Multiboot info structure at physical address addr
// out of mem (the full guest-physical address space as a byte slice,
// the same view the ELF loader and smem bootstrap operate over).
func Parse(mem []byte, addr uint32) (*Info, error) {
	hdr, err := readInfo(mem, addr)
	if err != nil {
		return nil, err
	}

	if hdr.Flags&flagMmap == 0 {
		return nil, ErrNoMemoryMap
	}

	regions, err := readRegions(mem, hdr.MmapAddr, hdr.MmapLength)
	if err != nil {
		return nil, err
	}

	var modules []Module
	if hdr.Flags&flagModules != 0 {
		modules, err = readModules(mem, hdr.ModsAddr, hdr.ModsCount)
		if err != nil {
			return nil, err
		}
	}

	return &Info{Regions: regions, Modules: modules}, nil
}

func readInfo(mem []byte, addr uint32) (rawInfo, error) {
	const sz = 48

	if uint64(addr)+sz > uint64(len(mem)) {
		return rawInfo{}, fmt.Errorf("multiboot: info struct at %#x exceeds memory", addr)
	}

	var hdr rawInfo

	r := newReader(mem[addr:])
	hdr.Flags = r.u32()
	hdr.MemLower = r.u32()
	hdr.MemUpper = r.u32()
	hdr.BootDevice = r.u32()
	hdr.CmdLine = r.u32()
	hdr.ModsCount = r.u32()
	hdr.ModsAddr = r.u32()
	r.skip(16)
	hdr.MmapLength = r.u32()
	hdr.MmapAddr = r.u32()

	return hdr, r.err
}

func readRegions(mem []byte, addr, length uint32) ([]MemRegion, error) {
	if uint64(addr)+uint64(length) > uint64(len(mem)) {
		return nil, fmt.Errorf("multiboot: mmap at %#x/%#x exceeds memory", addr, length)
	}

	var regions []MemRegion

	off := addr
	end := addr + length

	for off < end {
		r := newReader(mem[off:])

		size := r.u32()
		base := r.u64()
		l := r.u64()
		kind := r.u32()

		if r.err != nil {
			return nil, r.err
		}

		regions = append(regions, MemRegion{Base: base, Length: l, Kind: RegionKind(kind)})

		// size does not include the 4-byte size field itself.
		off += size + 4
	}

	return regions, nil
}

func readModules(mem []byte, addr, count uint32) ([]Module, error) {
	const entSize = 16

	modules := make([]Module, 0, count)

	for i := uint32(0); i < count; i++ {
		off := addr + i*entSize
		if uint64(off)+entSize > uint64(len(mem)) {
			return nil, fmt.Errorf("multiboot: module %d at %#x exceeds memory", i, off)
		}

		r := newReader(mem[off:])
		start := r.u32()
		end := r.u32()
		cmdline := r.u32()

		if r.err != nil {
			return nil, r.err
		}

		modules = append(modules, Module{
			Start: uint64(start),
			End:   uint64(end),
			Name:  readCString(mem, cmdline),
		})
	}

	return modules, nil
}

func readCString(mem []byte, addr uint32) string {
	if addr == 0 || uint64(addr) >= uint64(len(mem)) {
		return ""
	}

	end := addr
	for end < uint32(len(mem)) && mem[end] != 0 {
		end++
	}

	return string(mem[addr:end])
}

// reader is a tiny little-endian cursor used instead of binary.Read so
// the parser can report which field failed without allocating an
// io.Reader per call.
type reader struct {
	b   []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.b) {
		r.err = fmt.Errorf("multiboot: short read at offset %d", r.off)

		return 0
	}

	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4

	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || r.off+8 > len(r.b) {
		r.err = fmt.Errorf("multiboot: short read at offset %d", r.off)

		return 0
	}

	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8

	return v
}

func (r *reader) skip(n int) { r.off += n }

// BootModule picks the module the hypervisor image lives in: the one
// named "vmm.bin", or the second module as a GRUB2 fallback when names
// are unavailable (spec.md §4.2).
func BootModule(modules []Module) (Module, error) {
	for _, m := range modules {
		if containsVMMBin(m.Name) {
			return m, nil
		}
	}

	if len(modules) >= 2 {
		return modules[1], nil
	}

	return Module{}, errors.New("multiboot: no vmm.bin module and fewer than two modules present")
}

func containsVMMBin(name string) bool {
	const needle = "vmm.bin"

	if len(name) < len(needle) {
		return false
	}

	for i := 0; i+len(needle) <= len(name); i++ {
		if name[i:i+len(needle)] == needle {
			return true
		}
	}

	return false
}
