package vmexit

import (
	"github.com/vmxlab/hyperstone/guestmem"
	"github.com/vmxlab/hyperstone/vmcs"
)

// EventKind is the IDT-vectoring-information / VM-entry-interruption-
// information "interruption type" sub-field (bits 10:8), named the
// same way the original's EventType enum names them.
type EventKind uint8

const (
	EventHardInt EventKind = iota
	EventReserved
	EventNMI
	EventHardExcp
	EventSoftInt
	EventPrivSoftExcp
	EventSoftExcp
	EventOther
)

// decodeIntrInfo splits a VM-exit/IDT-vectoring interruption-
// information field into vector, kind, and validity, per
// ExitInfoInterrupt's bit layout (vector 7:0, kind 10:8, valid bit 31).
func decodeIntrInfo(v uint32) (vector uint8, kind EventKind, valid bool) {
	return uint8(v), EventKind((v >> 8) & 0x7), v&(1<<31) != 0
}

// ExceptionGP is the #GP vector, the only exception this handler
// actually dispatches (spec.md §4.6 step 3).
const ExceptionGP = 13

// Handle runs the VM-exit dispatch spec.md §4.6 describes: reads the
// basic reason, sub-dispatches ExceptionOrNMI for #GP in real mode,
// returns Fault for a #GP outside real mode, and otherwise returns
// Fail so the caller can log the unhandled
// reason and panic per spec.md §7's guest-unhandled taxonomy.
func Handle(v *vmcs.VMCS, mem *guestmem.Space, mode guestmem.Mode) Status {
	basic := BasicReason(v.Exit.BasicReason())

	if basic != ExceptionOrNMI {
		return Fail
	}

	vector, _, _ := decodeIntrInfo(v.Exit.IntrInfo.Get())
	if vector != ExceptionGP {
		return Fail
	}

	if mode != guestmem.ModeReal {
		return Fault
	}

	return handleRealModeGP(v, mem)
}

// handleRealModeGP implements spec.md §4.6 step 3: a real-mode #GP is
// only ever meaningful as a vectored software or external interrupt;
// anything else (including no IDT-vectoring information at all) is
// scenario 5's "#GP dispatch without IDT vectoring" and must fault.
func handleRealModeGP(v *vmcs.VMCS, mem *guestmem.Space) Status {
	vector, kind, valid := decodeIntrInfo(v.Exit.IDTVectoringInfo.Get())
	if !valid {
		return Fault
	}

	insnLen := uint16(v.Exit.InstructionLen.Get())

	switch kind {
	case EventSoftInt, EventHardInt:
		return RealModeInterrupt(v, mem, vector, insnLen)
	default:
		return Fail
	}
}
