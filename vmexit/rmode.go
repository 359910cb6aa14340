package vmexit

import (
	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/guestmem"
	"github.com/vmxlab/hyperstone/vmcs"
)

// RealModeInterrupt emulates real-mode interrupt/exception vector v
// with instruction size isz against the guest IVT, per spec.md §4.6's
// "Real-mode interrupt emulation" steps 1-7: reject the BIOS-misc
// vector, load the IVT entry, push RFLAGS onto the guest stack, clear
// IF/AC/TF/RF in the guest's RFLAGS, push CS and RIP+isz (all pushes
// use 16-bit modular arithmetic), then
// splice CS:IP to the handler and report DoneLetRip so the caller
// resumes without re-advancing RIP.
func RealModeInterrupt(v *vmcs.VMCS, mem *guestmem.Space, vec uint8, isz uint16) Status {
	if vec == cpu.BIOSMisc {
		return Fail
	}

	entry, err := guestmem.ReadIVT(mem, guestmem.ModeReal, vec)
	if err != nil {
		return Fail
	}

	stack := &guestmem.SegSP{Base: v.Guest.SS.Base.Get(), SP: uint16(v.Guest.RSP.Get())}

	rflags := guestmem.Rflags(v.Guest.RFLAGS.Get())
	if err := guestmem.PushReal(mem, guestmem.ModeReal, stack, 2, uint64(uint16(rflags))); err != nil {
		return Fail
	}

	v.Guest.RFLAGS.Set(uint64(rflags.ClearForInterruptDelivery()))

	cs := v.Guest.CS.Selector.Get()
	if err := guestmem.PushReal(mem, guestmem.ModeReal, stack, 2, uint64(cs)); err != nil {
		return Fail
	}

	rip := uint16(v.Guest.RIP.Get()) + isz
	if err := guestmem.PushReal(mem, guestmem.ModeReal, stack, 2, uint64(rip)); err != nil {
		return Fail
	}

	v.Guest.RSP.Set(uint64(stack.SP))

	v.Guest.CS.Selector.Set(entry.CS)
	v.Guest.CS.Base.Set(uint64(entry.CS) * 16)

	ripLow32 := (v.Guest.RIP.Get() &^ 0xFFFFFFFF) | uint64(entry.IP)
	v.Guest.RIP.Set(ripLow32)

	return DoneLetRip
}
