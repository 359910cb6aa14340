package kvm

import "unsafe"

// irqLevel is the payload for KVM_IRQ_LINE: a GSI number and the level
// to drive it to (1 = assert, 0 = deassert).
type irqLevel struct {
	IRQ   uint32
	Level uint32
}

// IRQLine asserts or deasserts the given GSI, the ioctl equivalent of
// driving a real IOAPIC/PIC input pin.
func IRQLine(vmFd uintptr, irq, level uint32) error {
	lvl := irqLevel{IRQ: irq, Level: level}

	_, err := Ioctl(vmFd, IIOW(kvmIRQLine, unsafe.Sizeof(lvl)), uintptr(unsafe.Pointer(&lvl)))

	return err
}

// CreateIRQChip attaches an in-kernel PIC/IOAPIC model to the VM so
// IRQLine has somewhere to route interrupts.
func CreateIRQChip(vmFd uintptr) error {
	_, err := Ioctl(vmFd, IIO(kvmCreateIRQChip), 0)

	return err
}

// pitConfig is the KVM_CREATE_PIT2 payload; Flags selects PIT speaker
// behavior we don't use, so it is always zero.
type pitConfig struct {
	Flags uint32
	_     [15]uint32
}

// CreatePIT2 attaches an in-kernel 8254 PIT model to the VM.
func CreatePIT2(vmFd uintptr) error {
	pit := pitConfig{}

	_, err := Ioctl(vmFd, IIOW(kvmCreatePIT2, unsafe.Sizeof(pit)), uintptr(unsafe.Pointer(&pit)))

	return err
}
