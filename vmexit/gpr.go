package vmexit

import "github.com/vmxlab/hyperstone/kvm"

// GPR64Context is the 15 general-purpose registers a bare-metal
// VM-exit trampoline would save immediately below the hypervisor
// stack top (RSP and RIP live in the VMCS, not here). Under KVM this
// save/restore is performed by KVM_GET_REGS/KVM_SET_REGS around
// KVM_RUN rather than by a hand-written assembly trampoline — the one
// part of spec.md §9's "assembly trampolines" note that KVM itself
// subsumes entirely, so GPR64Context exists here only as the documented
// wire shape. FromRegs and Apply convert it to and from kvm.Regs; the
// vmm run loop does not call them.
type GPR64Context struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RDI, RSI, RBP, RBX, RDX, RCX, RAX    uint64
}

// FromRegs extracts the 15 GPRs from a kvm.Regs snapshot (RSP/RIP/
// RFLAGS are VMCS-owned and handled by the vmcs package instead).
func FromRegs(r *kvm.Regs) GPR64Context {
	return GPR64Context{
		R15: r.R15, R14: r.R14, R13: r.R13, R12: r.R12,
		R11: r.R11, R10: r.R10, R9: r.R9, R8: r.R8,
		RDI: r.RDI, RSI: r.RSI, RBP: r.RBP, RBX: r.RBX,
		RDX: r.RDX, RCX: r.RCX, RAX: r.RAX,
	}
}

// Apply writes the 15 GPRs back into r, leaving RSP/RIP/RFLAGS
// untouched.
func (c GPR64Context) Apply(r *kvm.Regs) {
	r.R15, r.R14, r.R13, r.R12 = c.R15, c.R14, c.R13, c.R12
	r.R11, r.R10, r.R9, r.R8 = c.R11, c.R10, c.R9, c.R8
	r.RDI, r.RSI, r.RBP, r.RBX = c.RDI, c.RSI, c.RBP, c.RBX
	r.RDX, r.RCX, r.RAX = c.RDX, c.RCX, c.RAX
}
