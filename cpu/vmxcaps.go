package cpu

import "fmt"

// ErrVMXLocked is fatal: IA32_FEATURE_CONTROL.lock is set but the VMX
// outside-SMX enable bit is clear, meaning BIOS has locked VMX off.
var ErrVMXLocked = fmt.Errorf("cpu: VMX disabled by BIOS (IA32_FEATURE_CONTROL locked off)")

// FeatureControlOK reports whether VMX is usable given a raw
// IA32_FEATURE_CONTROL value: either the register isn't locked yet, or
// it's locked with the VMX-outside-SMX bit (bit 2) set.
func FeatureControlOK(featureControl uint64) bool {
	const locked = 1 << 0
	const vmxOutsideSMX = 1 << 2

	if featureControl&locked == 0 {
		return true
	}

	return featureControl&vmxOutsideSMX != 0
}

// AllowMasks splits a VMX true/plain capability MSR into its two masks:
// the low 32 bits (allow_0) set every control bit that must be 1, and
// the high 32 bits (allow_1) clear every control bit that must be 0.
// FixedBits ORs in allow_0 and ANDs with allow_1.
func AllowMasks(capMSR uint64) (allow0, allow1 uint32) {
	allow0 = uint32(capMSR)
	allow1 = uint32(capMSR >> 32)

	return allow0, allow1
}

// FixedBits applies the mandatory VMX fixed-bit masking formula any
// control field's committed value must satisfy:
// (requested & allow_1) | allow_0.
func FixedBits(requested, allow0, allow1 uint32) uint32 {
	return (requested & allow1) | allow0
}
