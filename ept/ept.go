// Package ept builds the guest-physical-to-host-physical map: an
// instantiation of the paging engine over EPT's own entry-bit layout,
// constructed from the host's MTRR configuration the way spec.md §4.4
// describes.
package ept

import (
	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/paging"
	"github.com/vmxlab/hyperstone/smem"
)

// Semantics implements paging.Semantics for EPT entries: bits 0/1/2 =
// read/write/execute, bits 3..5 = memory type, bit 7 = large page at
// L2/L3, bits 12..51 = address.
type Semantics struct{}

const (
	permRead  = 1 << 0
	permWrite = 1 << 1
	permExec  = 1 << 2
	large     = 1 << 7

	addrMask = 0x000FFFFFFFFFF000
	attrMask = 0x3F // RWX (bits 0-2) + memory type (bits 3-5)
	memTypeShift = 3
)

func (Semantics) Present(e uint64) bool { return e&(permRead|permWrite|permExec) != 0 }

func (Semantics) IsLarge(e uint64, l paging.Level) bool {
	if l == paging.L1 {
		return false
	}

	return e&large != 0
}

func (Semantics) CanBeLarge(l paging.Level) bool { return l == paging.L2 || l == paging.L3 }

func (Semantics) TableEntry(addr uint64, tableAttr uint64) uint64 {
	return (addr & addrMask) | permRead | permWrite | permExec
}

func (Semantics) PageEntry(addr uint64, pageAttr uint64) uint64 {
	return (addr & addrMask) | (pageAttr & attrMask) | large
}

func (Semantics) Addr(e uint64) uint64 { return e & addrMask }

func (Semantics) Attr(e uint64) uint64 { return e & attrMask }

func (Semantics) Clear() uint64 { return 0 }

// Attr packs RWX permission bits and a memory type into the PageAttr
// word paging.Config carries.
func Attr(mtype cpu.MTRRType, read, write, exec bool) uint64 {
	var a uint64

	if read {
		a |= permRead
	}

	if write {
		a |= permWrite
	}

	if exec {
		a |= permExec
	}

	a |= uint64(mtype) << memTypeShift

	return a
}

// fullRWX is the permission set identity-mapped guest memory gets;
// unrestricted-guest real/protected mode execution needs all three.
const fullRWX = true

func rwxAttr(mtype cpu.MTRRType) uint64 { return Attr(mtype, fullRWX, fullRWX, fullRWX) }

// Pointer computes the EPTP value the VMCS EPT-pointer field carries:
// the EPT root physical address, memory type in bits 0..2, and
// (page-walk-length - 1) = 3 in bits 3..5, matching spec.md §4.5's
// "EPTP = EPT-root | (WB << 0) | (3 << 3)".
func Pointer(root uint64, memType cpu.MTRRType) uint64 {
	return (root &^ 0xFFF) | uint64(memType) | (3 << 3)
}

// MTRRState is the host MTRR configuration Construct needs, already
// read out of the relevant MSRs (cpu.ReadMSR et al.) by the caller.
// FixedTypes holds one memory-type byte per entry of cpu.FixedRanges(),
// in the same order (the caller unpacks each MTRRfix MSR's 8 packed
// type bytes into this slice).
type MTRRState struct {
	Enabled      bool
	FixedEnabled bool
	DefaultType  cpu.MTRRType
	Variable     []cpu.VariableRange
	FixedTypes   []uint8
}

// Construct builds the full guest-physical map per spec.md §4.4:
// identity-map [0, physEnd) at the default type, remap variable-range
// and fixed-range MTRR regions over it, then unmap the secret area so
// the guest can never address hypervisor memory.
func Construct(eng *paging.Engine[Semantics], env *paging.Env, physEnd uint64, mtrr MTRRState, area smem.SecretArea) error {
	defType := cpu.MTRRUncacheable
	if mtrr.Enabled {
		defType = mtrr.DefaultType
	}

	base := paging.Config{Large: true, Pg2M: true, Pg1G: true, PageAttr: rwxAttr(defType)}
	if err := eng.Map(env, 0, physEnd, base); err != nil {
		return err
	}

	if mtrr.Enabled {
		for _, v := range mtrr.Variable {
			if v.Base+v.Size > physEnd {
				continue
			}

			conf := paging.Config{Large: true, Pg2M: true, Pg1G: true, PageAttr: rwxAttr(v.Type)}
			if err := eng.Map(env, v.Base, v.Base+v.Size, conf); err != nil {
				return err
			}
		}

		if mtrr.FixedEnabled {
			ranges := cpu.FixedRanges()

			for i, r := range ranges {
				if r.Base+r.Size > physEnd {
					continue
				}

				t := mtrr.DefaultType
				if i < len(mtrr.FixedTypes) {
					t = cpu.MTRRType(mtrr.FixedTypes[i])
				}

				conf := paging.Config{PageAttr: rwxAttr(t)}
				if err := eng.Finest(env, r.Base, r.Base+r.Size, conf); err != nil {
					return err
				}
			}
		}
	}

	return eng.Unmap(env, area.Start, area.End)
}

// UnpackFixedTypes splits the 8 packed type bytes of one MTRRfix MSR
// value into individual bytes, low byte first, matching the order
// cpu.FixedRanges() enumerates a given MSR's 8 sub-ranges.
func UnpackFixedTypes(msrValue uint64) [8]uint8 {
	var out [8]uint8
	for i := range out {
		out[i] = uint8(msrValue >> (8 * i))
	}

	return out
}
