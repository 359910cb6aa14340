package kvm

import (
	"unsafe"
)

// CPUID is the set of CPUID entries returned by GetCPUID.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries [100]CPUIDEntry2
}

// CPUIDEntry2 is one entry for CPUID. It took 2 tries to get it right :-)
// Thanks x86 :-).
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// GetSupportedCPUID fills kvmCPUID with every CPUID leaf the host KVM
// module can expose to a guest; SetCPUID2 below installs a (possibly
// trimmed) copy of this set into a vcpu.
func GetSupportedCPUID(kvmFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(kvmFd,
		IIOWR(kvmGetSupportedCPUID, sizeofPtr(kvmCPUID)),
		uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}

// SetCPUID2 installs CPUID leaves into a vcpu. The usual sequence is
// GetSupportedCPUID against the /dev/kvm fd, then SetCPUID2 per vcpu so
// each core can be handed a tailored leaf set.
func SetCPUID2(vcpuFd uintptr, kvmCPUID *CPUID) error {
	_, err := Ioctl(vcpuFd,
		IIOW(kvmSetCPUID2, sizeofPtr(kvmCPUID)),
		uintptr(unsafe.Pointer(kvmCPUID)))

	return err
}
