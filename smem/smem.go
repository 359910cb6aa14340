// Package smem carves the hypervisor's private ("secret") physical
// memory region out of the RAM the boot loader reports, and lays out
// every object that lives in it: stack, page pool, page-table roots,
// hardware VMCS regions, segmentation tables, the relocated ELF image,
// the frame registry, the system map, and the Info block that ties them
// all together.
package smem

import (
	"errors"
	"fmt"

	"github.com/vmxlab/hyperstone/elf64"
	"github.com/vmxlab/hyperstone/frame"
	"github.com/vmxlab/hyperstone/multiboot"
	"github.com/vmxlab/hyperstone/pool"
	"github.com/vmxlab/hyperstone/smap"
)

const pageSize = 0x1000

// Sizes of the fixed-size objects carved out of the secret area, in the
// order spec.md §4.2 accumulates them.
const (
	StackFrames       = 3
	StackSize         = StackFrames * pageSize
	PoolSize          = pool.DefaultFrames * pageSize
	PML4Size          = pageSize
	HardwareVMCSSize  = pageSize
	SegmentationSize  = 2 * pageSize // GDT + 256-entry IDT (a full frame) + TSS
	infoAlign         = 8
)

// ErrAreaNotFound is fatal: the Multiboot memory map had no usable RAM
// region above 1 MiB, so there is nowhere to carve the secret area from.
var ErrAreaNotFound = errors.New("smem: no above-1MiB RAM region found")

// SecretArea is the contiguous page-aligned physical region reserved
// for the hypervisor; the guest EPT must never map a frame inside it.
type SecretArea struct {
	Start uint64
	End   uint64
}

// PFNRange returns the inclusive-exclusive page-frame-number range the
// secret area occupies, for EPT and frame-registry bookkeeping.
func (s SecretArea) PFNRange() (start, end uint64) {
	return s.Start / pageSize, (s.End + pageSize - 1) / pageSize
}

// HardwareMemory describes the RAM this host reports to the loader.
type HardwareMemory struct {
	Area    SecretArea
	RamEnd  uint64
	PhysEnd uint64
}

// Info is the single process-wide capability value the bootstrap
// layout produces once: pointers (physical offsets) to every object it
// carved, held by vmm, which passes the fields each component needs to
// pool/paging/ept/vmcs/guestmem instead of exposing a global (spec.md
// §9 Design Notes).
type Info struct {
	Mem HardwareMemory

	StackTop   uint64
	PoolStart  uint64
	PML4VMM    uint64
	PML4VM     uint64
	VMCSVMM    uint64
	VMCSVM     uint64
	Segment    uint64
	ELFBase    uint64
	ELFSize    uint64
	FrameBase  uint64
	FrameCount uint64
	SystemMap  []smap.Entry

	// SelfAddr is the physical address Info itself lives at; the
	// loaded image's first 8 bytes are overwritten with this value so
	// the relocated hypervisor can find its own globals after load.
	SelfAddr uint64
}

// align rounds x up to the next multiple of a (a must be a power of
// two); align_next(x,a) on an already-aligned x returns x+a, matching
// the boundary behavior spec.md §8 calls out.
func alignUp(x, a uint64) uint64 {
	if x%a == 0 {
		return x + a
	}

	return (x + a - 1) &^ (a - 1)
}

func floorAlign(x, a uint64) uint64 {
	return x &^ (a - 1)
}

// Inspect scans Multiboot regions for ram_end (the highest RAM byte+1)
// and area_end (the top of the first RAM region above 1 MiB).
func Inspect(regions []multiboot.MemRegion) (ramEnd, areaEnd uint64, err error) {
	for _, r := range regions {
		if r.Kind != multiboot.RegionAvailable {
			continue
		}

		if top := r.Base + r.Length; top > ramEnd {
			ramEnd = top
		}

		if r.Base >= 1<<20 && areaEnd == 0 {
			areaEnd = r.Base + r.Length
		}
	}

	if ramEnd == 0 || areaEnd == 0 {
		return 0, 0, ErrAreaNotFound
	}

	return ramEnd, areaEnd, nil
}

// Carve computes the secret-area layout, zeroes it in mem (the
// guest-physical address space as a flat byte slice), loads the ELF
// image at its reserved offset, and returns the Info capability value
// describing everything placed inside the area.
func Carve(mem []byte, mb *multiboot.Info, img *elf64.Image) (*Info, error) {
	ramEnd, areaEnd, err := Inspect(mb.Regions)
	if err != nil {
		return nil, err
	}

	physEnd := ramEnd
	if physEnd < 4<<30 {
		physEnd = 4 << 30
	}

	frameSize := frame.SizeBytes(ramEnd)
	mapSize := smap.SizeBytes(len(mb.Regions))
	elfAlign := img.Align()
	elfSize := img.Size()

	// Accumulate in the order spec.md §4.2 lists.
	need := uint64(StackSize) + PoolSize + 2*PML4Size + 2*HardwareVMCSSize + SegmentationSize
	need = alignUp(need, elfAlign)
	need += elfSize + frameSize + mapSize
	need = alignUp(need, infoAlign)
	need += sizeofInfo

	if need > areaEnd {
		return nil, fmt.Errorf("smem: secret area needs %#x bytes, only %#x available", need, areaEnd)
	}

	start := floorAlign(areaEnd-need, pageSize)
	area := SecretArea{Start: start, End: areaEnd}

	for i := range mem[start:areaEnd] {
		mem[start:areaEnd][i] = 0
	}

	off := start
	info := &Info{Mem: HardwareMemory{Area: area, RamEnd: ramEnd, PhysEnd: physEnd}}

	info.StackTop = off + StackSize
	off += StackSize

	info.PoolStart = off
	off += PoolSize

	info.PML4VMM = off
	off += PML4Size

	info.PML4VM = off
	off += PML4Size

	info.VMCSVMM = off
	off += HardwareVMCSSize

	info.VMCSVM = off
	off += HardwareVMCSSize

	info.Segment = off
	off += SegmentationSize

	off = alignUp(off, elfAlign)
	info.ELFBase = off
	info.ELFSize = elfSize

	if err := img.Load(mem[info.ELFBase:], info.ELFBase); err != nil {
		return nil, fmt.Errorf("smem: loading vmm image: %w", err)
	}

	off += elfSize

	info.FrameBase = off
	info.FrameCount = ramEnd / pageSize
	off += frameSize

	systemMapBase := off
	off += mapSize

	off = alignUp(off, infoAlign)
	info.SelfAddr = off
	info.SystemMap = smap.Build(mb.Regions, area.Start)

	_ = systemMapBase // the map's live values are held in Info.SystemMap; the
	// reserved bytes above still count toward the secret area's size so a
	// future on-disk marshal of the map has somewhere to live.

	writeSelfPointer(mem, info.ELFBase, info.SelfAddr)

	return info, nil
}

// AlignNext is the alignment helper spec.md §8 tests directly: on an
// already-aligned x it returns x+a.
func AlignNext(x, a uint64) uint64 { return alignUp(x, a) }

// sizeofInfo is the secret area's reservation for the Info block: 16
// uint64 values (four of them inside Mem) plus the system-map slice
// header, rounded up to a page-friendly 256 bytes.
const sizeofInfo = 256

func writeSelfPointer(mem []byte, elfBase, selfAddr uint64) {
	for i := 0; i < 8; i++ {
		mem[elfBase+uint64(i)] = byte(selfAddr >> (8 * i))
	}
}
