// Package cpu reads the host's MTRR and VMX capability MSRs through
// KVM and applies the fixed-bit masking every VMX control field needs.
package cpu

import "github.com/vmxlab/hyperstone/kvm"

// MTRR-related MSR indices, named exactly as the original's cpu.rs/
// mtrr.rs constants so the fixed-range decomposition below reads the
// same way.
const (
	MSRMTRRCap           = 0x0FE
	MSRMTRRDefType       = 0x2FF
	MSRMTRRPhysBase0     = 0x200
	MSRMTRRPhysMask0     = 0x201
	MSRMTRRFix64K00000   = 0x250
	MSRMTRRFix16K80000   = 0x258
	MSRMTRRFix16KA0000   = 0x259
	MSRMTRRFix4KC0000    = 0x268
	MSRMTRRFix4KC8000    = 0x269
	MSRMTRRFix4KD0000    = 0x26A
	MSRMTRRFix4KD8000    = 0x26B
	MSRMTRRFix4KE0000    = 0x26C
	MSRMTRRFix4KE8000    = 0x26D
	MSRMTRRFix4KF0000    = 0x26E
	MSRMTRRFix4KF8000    = 0x26F

	MSRFeatureControl = 0x03A
	MSRVMXBasic       = 0x480

	MSRVMXPinbasedCtls        = 0x481
	MSRVMXProcbasedCtls       = 0x482
	MSRVMXExitCtls            = 0x483
	MSRVMXEntryCtls           = 0x484
	MSRVMXMiscMSR             = 0x485
	MSRVMXCR0Fixed0           = 0x486
	MSRVMXCR0Fixed1           = 0x487
	MSRVMXCR4Fixed0           = 0x488
	MSRVMXCR4Fixed1           = 0x489
	MSRVMXProcbasedCtls2      = 0x48B
	MSRVMXEPTVPIDCap          = 0x48C
	MSRVMXTruePinbasedCtls    = 0x48D
	MSRVMXTrueProcbasedCtls   = 0x48E
	MSRVMXTrueExitCtls        = 0x48F
	MSRVMXTrueEntryCtls       = 0x490
)

// MTRRType is one of the memory types MTRRs and EPT both encode in a
// 3-bit field.
type MTRRType uint8

const (
	MTRRUncacheable MTRRType = 0
	MTRRWriteCombining MTRRType = 1
	MTRRWriteThrough MTRRType = 4
	MTRRWriteProtected MTRRType = 5
	MTRRWriteBack MTRRType = 6
)

// FixedRange names one of the 88 fixed-range MTRR sub-ranges (8 of
// 64 KiB, 16 of 16 KiB, 64 of 4 KiB), in address order, per the
// original's verbatim fixed-range decomposition.
type FixedRange struct {
	Base uint64
	Size uint64
	MSR  uint32
	// Sub is this range's byte offset within its MSR (each MTRRfix MSR
	// packs 8 one-byte types).
	Sub uint
}

// FixedRanges returns the 88 fixed-range MTRR sub-ranges covering
// [0, 0x100000) in address order.
func FixedRanges() []FixedRange {
	var out []FixedRange

	addr := uint64(0)
	for i := 0; i < 8; i++ {
		out = append(out, FixedRange{Base: addr, Size: 0x10000, MSR: MSRMTRRFix64K00000, Sub: uint(i)})
		addr += 0x10000
	}

	sixteenKMSRs := []uint32{MSRMTRRFix16K80000, MSRMTRRFix16KA0000}
	for _, msr := range sixteenKMSRs {
		for i := 0; i < 8; i++ {
			out = append(out, FixedRange{Base: addr, Size: 0x4000, MSR: msr, Sub: uint(i)})
			addr += 0x4000
		}
	}

	fourKMSRs := []uint32{
		MSRMTRRFix4KC0000, MSRMTRRFix4KC8000, MSRMTRRFix4KD0000, MSRMTRRFix4KD8000,
		MSRMTRRFix4KE0000, MSRMTRRFix4KE8000, MSRMTRRFix4KF0000, MSRMTRRFix4KF8000,
	}
	for _, msr := range fourKMSRs {
		for i := 0; i < 8; i++ {
			out = append(out, FixedRange{Base: addr, Size: 0x1000, MSR: msr, Sub: uint(i)})
			addr += 0x1000
		}
	}

	return out
}

// VariableRange is one decoded IA32_MTRR_PHYSBASE/PHYSMASK pair.
type VariableRange struct {
	Base uint64
	Size uint64
	Type MTRRType
}

// ReadMSR fetches a single MSR's value from vcpuFd via KVM_GET_MSRS.
func ReadMSR(vcpuFd uintptr, index uint32) (uint64, error) {
	msrs := &kvm.MSRS{NMSRs: 1}
	msrs.Entries[0].Index = index

	if err := kvm.GetMSRs(vcpuFd, msrs); err != nil {
		return 0, err
	}

	return msrs.Entries[0].Data, nil
}

// MTRREnabled reports whether MTRRs are globally enabled
// (IA32_MTRR_DEF_TYPE.E, bit 11) and returns the default memory type
// (bits 0..7).
func MTRREnabled(defType uint64) (enabled bool, fixedEnabled bool, def MTRRType) {
	enabled = defType&(1<<11) != 0
	fixedEnabled = defType&(1<<10) != 0
	def = MTRRType(defType & 0xFF)

	return enabled, fixedEnabled, def
}

// VariableRanges decodes the variable-range MTRR pairs from a base/mask
// MSR block already read into base/mask slices (one entry per pair, in
// physbase/physmask MSR-pair order starting at MSRMTRRPhysBase0).
// maxPAddrBits is the host's physical address width, used to form
// size = max_paddr - (mask.mask << 12) + 1.
func VariableRanges(bases, masks []uint64, maxPAddrBits uint) []VariableRange {
	maxPAddr := uint64(1) << maxPAddrBits

	var out []VariableRange

	for i := range bases {
		if masks[i]&(1<<11) == 0 {
			continue // PhysMask.valid bit clear: this pair is unused.
		}

		base := bases[i] &^ 0xFFF
		mtype := MTRRType(bases[i] & 0xFF)
		maskAddr := masks[i] &^ 0xFFF
		size := maxPAddr - maskAddr + 1

		out = append(out, VariableRange{Base: base, Size: size, Type: mtype})
	}

	return out
}
