package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl sequence numbers, include/uapi/linux/kvm.h.
const (
	nrGetAPIVersion   = 0x00
	nrCreateVM        = 0x01
	nrCreateVCPU      = 0x41
	nrRun             = 0x80
	nrGetVCPUMMapSize = 0x04
)

// numInterrupts sizes Sregs.InterruptBitmap: one bit per real-mode
// vector, matching struct kvm_sregs.
const numInterrupts = 0x100

// RunData mirrors struct kvm_run, the page KVM and the VMM share to
// report why KVM_RUN returned. Only the header fields and the raw I/O
// exit payload are modeled; MMIO/hypercall/system-event payloads live
// further into the same union but are unused by this VMM.
type RunData struct {
	RequestInterruptWindow     uint8
	_                          [7]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// IO decodes the kvm_run io exit payload packed into Data[0]/Data[1]:
// direction, operand size in bytes, port number, repeat count and the
// byte offset (relative to the RunData page) of the data buffer.
func (r *RunData) IO() (direction, size, port, count, offset uint64) {
	direction = r.Data[0] & 0xFF
	size = (r.Data[0] >> 8) & 0xFF
	port = (r.Data[0] >> 16) & 0xFFFF
	count = (r.Data[0] >> 32) & 0xFFFFFFFF
	offset = r.Data[1]

	return direction, size, port, count, offset
}

// Exception decodes the kvm_run exception-exit payload packed into
// Data[0]: the raw vector KVM observed and its error code, the same
// pair struct kvm_run's "ex" union member carries for EXITEXCEPTION.
func (r *RunData) Exception() (vector, errorCode uint32) {
	return uint32(r.Data[0]), uint32(r.Data[0] >> 32)
}

// GetAPIVersion issues KVM_GET_API_VERSION; callers must see 12, the
// only version this package's ioctl encodings are valid against.
func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(nrGetAPIVersion), 0)
}

// CreateVM issues KVM_CREATE_VM, returning a new VM file descriptor.
func CreateVM(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(nrCreateVM), 0)
}

// CreateVCPU issues KVM_CREATE_VCPU for the given logical CPU index.
func CreateVCPU(vmFd uintptr, cpuID int) (uintptr, error) {
	return Ioctl(vmFd, IIO(nrCreateVCPU), uintptr(cpuID))
}

// Run issues KVM_RUN, blocking until the next vmexit or a queued
// signal interrupts it (Ioctl already retries EINTR internally, so a
// return here is always a genuine exit).
func Run(vcpuFd uintptr) error {
	_, err := Ioctl(vcpuFd, IIO(nrRun), 0)

	return err
}

// GetVCPUMMapSize issues KVM_GET_VCPU_MMAP_SIZE: the size, in bytes, of
// the RunData page each vcpu fd must be mmap'd with.
func GetVCPUMMapSize(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(nrGetVCPUMMapSize), 0)
}

// MapRunData mmaps a vcpu's shared RunData page and returns a pointer
// aliased onto it; writes through the returned pointer are visible to
// the next KVM_RUN the same way writes to guest memory are.
func MapRunData(vcpuFd uintptr, size int) (*RunData, []byte, error) {
	b, err := unix.Mmap(int(vcpuFd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}

	return (*RunData)(unsafe.Pointer(&b[0])), b, nil
}
