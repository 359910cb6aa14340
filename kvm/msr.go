package kvm

import (
	"unsafe"
)

type MSRList struct {
	NMSRs    uint32
	Indicies [100]uint32
}

// GetMSRIndexList returns the guest msrs that are supported.
// The list varies by kvm version and host processor, but does not change otherwise.
func GetMSRIndexList(kvmFd uintptr, list *MSRList) error {
	// This ugly hack is required to make the Ioctl work.
	// If tried like kvm.GetSupportedCPUID it doesn't work.
	// Maybe a difference in behavior on kernel side.
	tmp := struct {
		NMSRs uint32
	}{
		NMSRs: 100,
	}
	_, err := Ioctl(kvmFd,
		IIOWR(kvmGetMSRIndexList, unsafe.Sizeof(tmp)),
		uintptr(unsafe.Pointer(list)))

	return err
}

// maxMSREntries bounds the fixed-size MSRS struct the same way CPUID
// bounds its entries array: the ioctl ABI wants a flexible array member,
// Go wants a fixed layout, so a roomy fixed array stands in.
const maxMSREntries = 64

// MSREntry is one {index, data} pair read or written via GetMSRs/SetMSRs.
type MSREntry struct {
	Index    uint32
	Reserved uint32
	Data     uint64
}

// MSRS is the KVM_GET_MSRS/KVM_SET_MSRS payload: NMSRs entries are
// valid, starting at Entries[0].
type MSRS struct {
	NMSRs   uint32
	Padding uint32
	Entries [maxMSREntries]MSREntry
}

// GetMSRs reads the MSRs named by msrs.Entries[i].Index (for i <
// msrs.NMSRs) from vcpuFd, filling in their Data fields.
func GetMSRs(vcpuFd uintptr, msrs *MSRS) error {
	_, err := Ioctl(vcpuFd, IIOWR(kvmGetMSRs, sizeofPtr(msrs)), uintptr(unsafe.Pointer(msrs)))

	return err
}

// SetMSRs writes msrs.Entries[i].Data (for i < msrs.NMSRs) to the named
// MSRs on vcpuFd.
func SetMSRs(vcpuFd uintptr, msrs *MSRS) error {
	_, err := Ioctl(vcpuFd, IIOW(kvmSetMSRs, sizeofPtr(msrs)), uintptr(unsafe.Pointer(msrs)))

	return err
}
