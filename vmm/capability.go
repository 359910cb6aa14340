package vmm

import (
	"fmt"

	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/ept"
)

// hostPhysAddrBits is the physical address width this VMM assumes when
// sizing variable-range MTRRs. A faithful probe reads CPUID leaf
// 0x80000008; KVM's CPUID ioctl surface in this package only models
// the guest-facing entries, so 36 bits (64 GiB) is used instead — the
// minimum width every 64-bit VT-x host reports, and ample for the
// memory sizes this hypervisor boots.
const hostPhysAddrBits = 36

// probeVMX reads IA32_FEATURE_CONTROL and fails fatally if VMX is
// locked off by BIOS, per spec.md §7's Fatal taxonomy entry.
func probeVMX(vcpuFd uintptr) error {
	fc, err := cpu.ReadMSR(vcpuFd, cpu.MSRFeatureControl)
	if err != nil {
		return fmt.Errorf("vmm: read IA32_FEATURE_CONTROL: %w", err)
	}

	if !cpu.FeatureControlOK(fc) {
		return cpu.ErrVMXLocked
	}

	return nil
}

// vmxAllowMasks holds, as readAllowMasks fills it from the four VMX
// true-capability MSRs plus IA32_VMX_PROCBASED_CTLS2, the split of
// each into its allow-0/allow-1 mask pair, the values vmcs.Init folds
// every corresponding control field through.
type vmxAllowMasks struct {
	pin0, pin1       uint32
	proc10, proc11   uint32
	proc20, proc21   uint32
	exit0, exit1     uint32
	entry0, entry1   uint32
}

func readAllowMasks(vcpuFd uintptr) (vmxAllowMasks, error) {
	read := func(idx uint32) (uint32, uint32, error) {
		v, err := cpu.ReadMSR(vcpuFd, idx)
		if err != nil {
			return 0, 0, err
		}

		a0, a1 := cpu.AllowMasks(v)

		return a0, a1, nil
	}

	var m vmxAllowMasks

	var err error

	if m.pin0, m.pin1, err = read(cpu.MSRVMXTruePinbasedCtls); err != nil {
		return m, err
	}

	if m.proc10, m.proc11, err = read(cpu.MSRVMXTrueProcbasedCtls); err != nil {
		return m, err
	}

	if m.proc20, m.proc21, err = read(cpu.MSRVMXProcbasedCtls2); err != nil {
		return m, err
	}

	if m.exit0, m.exit1, err = read(cpu.MSRVMXTrueExitCtls); err != nil {
		return m, err
	}

	if m.entry0, m.entry1, err = read(cpu.MSRVMXTrueEntryCtls); err != nil {
		return m, err
	}

	return m, nil
}

// fixedMTRRMSRs lists the 11 MTRRfix MSRs in the same address order
// cpu.FixedRanges() enumerates their 88 sub-ranges, 8 per MSR.
var fixedMTRRMSRs = []uint32{
	cpu.MSRMTRRFix64K00000,
	cpu.MSRMTRRFix16K80000, cpu.MSRMTRRFix16KA0000,
	cpu.MSRMTRRFix4KC0000, cpu.MSRMTRRFix4KC8000,
	cpu.MSRMTRRFix4KD0000, cpu.MSRMTRRFix4KD8000,
	cpu.MSRMTRRFix4KE0000, cpu.MSRMTRRFix4KE8000,
	cpu.MSRMTRRFix4KF0000, cpu.MSRMTRRFix4KF8000,
}

// readMTRRState reads every MTRR MSR this hypervisor needs to build
// the EPT memory-type map per spec.md §4.4.
func readMTRRState(vcpuFd uintptr) (ept.MTRRState, error) {
	defTypeRaw, err := cpu.ReadMSR(vcpuFd, cpu.MSRMTRRDefType)
	if err != nil {
		return ept.MTRRState{}, fmt.Errorf("vmm: read IA32_MTRR_DEF_TYPE: %w", err)
	}

	enabled, fixedEnabled, def := cpu.MTRREnabled(defTypeRaw)

	state := ept.MTRRState{Enabled: enabled, FixedEnabled: fixedEnabled, DefaultType: def}
	if !enabled {
		return state, nil
	}

	capRaw, err := cpu.ReadMSR(vcpuFd, cpu.MSRMTRRCap)
	if err != nil {
		return ept.MTRRState{}, fmt.Errorf("vmm: read IA32_MTRRCAP: %w", err)
	}

	vcnt := int(capRaw & 0xFF)

	bases := make([]uint64, vcnt)
	masks := make([]uint64, vcnt)

	for i := 0; i < vcnt; i++ {
		b, err := cpu.ReadMSR(vcpuFd, cpu.MSRMTRRPhysBase0+uint32(2*i))
		if err != nil {
			return ept.MTRRState{}, fmt.Errorf("vmm: read MTRRphysBase%d: %w", i, err)
		}

		m, err := cpu.ReadMSR(vcpuFd, cpu.MSRMTRRPhysMask0+uint32(2*i))
		if err != nil {
			return ept.MTRRState{}, fmt.Errorf("vmm: read MTRRphysMask%d: %w", i, err)
		}

		bases[i], masks[i] = b, m
	}

	state.Variable = cpu.VariableRanges(bases, masks, hostPhysAddrBits)

	if !fixedEnabled {
		return state, nil
	}

	fixedTypes := make([]uint8, 0, 88)

	for _, msr := range fixedMTRRMSRs {
		v, err := cpu.ReadMSR(vcpuFd, msr)
		if err != nil {
			return ept.MTRRState{}, fmt.Errorf("vmm: read MTRRfix %#x: %w", msr, err)
		}

		unpacked := ept.UnpackFixedTypes(v)
		for _, b := range unpacked {
			fixedTypes = append(fixedTypes, b)
		}
	}

	state.FixedTypes = fixedTypes

	return state, nil
}
