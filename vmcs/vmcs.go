// Package vmcs mirrors the hardware Virtual Machine Control Structure:
// a cached, encoded, lazily-committed copy of every guest/host/control
// field the guest VMCS initialization sequence needs. Because this VMM
// never issues a bare `vmwrite` itself (KVM owns VMX root operation),
// Commit flushes the mirror's dirty fields through the kvm package's
// Regs/Sregs/DebugRegs ioctls instead of a raw VMCS write — the
// cache-and-commit protocol is unchanged, only what performs the flush.
// Guest fields with no counterpart in those ioctls (SYSENTER, PAT,
// activity state, VMCS link pointer) stay cached and are not flushed.
package vmcs

import (
	"fmt"

	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/kvm"
)

// Real-mode segment access-rights bytes (VMX guest segment
// access-rights field, low byte): 16-bit code, execute/read/conforming
// accessed, S=1, DPL=0, present; 16-bit data, read/write accessed,
// S=1, DPL=0, present; 32-bit TSS (busy), present. These are the
// standard unrestricted-guest real-mode startup values every VMX
// bring-up sequence uses.
const (
	segAccessCode16    = 0x809F
	segAccessData16    = 0x8093
	segAccessTSS32Busy = 0x8B
	segAccessUnusable  = 1 << 16

	// ActivityActive is GUEST_ACTIVITY_STATE's "active" encoding.
	ActivityActive = 0

	rflagsReserved1 = 1 << 1
	rflagsIF        = 1 << 9
)

// SegDesc is one guest segment register's four-field VMCS shadow:
// selector, base, limit, access rights.
type SegDesc struct {
	Selector Field[uint16]
	Base     Field[uint64]
	Limit    Field[uint32]
	Access   Field[uint32]
}

// DTR is a guest GDTR/IDTR shadow: base and limit, no selector.
type DTR struct {
	Base  Field[uint64]
	Limit Field[uint32]
}

// Guest groups every guest-state VMCS field spec.md's data model names.
type Guest struct {
	CR0 FixedField[uint64]
	CR2 FakeField
	CR3 Field[uint64]
	CR4 FixedField[uint64]
	DR6 FakeField
	DR7 Field[uint64]

	RSP    Field[uint64]
	RIP    Field[uint64]
	RFLAGS Field[uint64]

	ES, CS, SS, DS, FS, GS, LDTR, TR SegDesc
	GDTR, IDTR                       DTR

	IA32SysenterCS  Field[uint32]
	IA32SysenterESP Field[uint64]
	IA32SysenterEIP Field[uint64]
	IA32PAT         Field[uint64]
	IA32EFER        Field[uint64]

	ActivityState   Field[uint32]
	VMCSLinkPointer Field[uint64]
}

// Host groups every host-state VMCS field. KVM manages VMX root-mode
// host-state save/restore internally and exposes no per-field ioctl
// for it, so Commit treats this group as a documented, inert cache:
// populated by Init for completeness and testability, never flushed.
// See DESIGN.md for the full rationale.
type Host struct {
	CR0, CR3, CR4 Field[uint64]
	RSP, RIP      Field[uint64]

	CS, SS, DS, ES, FS, GS, TR Field[uint16]
	FSBase, GSBase, TRBase     Field[uint64]
	GDTRBase, IDTRBase         Field[uint64]

	IA32SysenterCS  Field[uint32]
	IA32SysenterESP Field[uint64]
	IA32SysenterEIP Field[uint64]
	IA32PAT         Field[uint64]
	IA32EFER        Field[uint64]
}

// ExecCtl groups the pin-based, primary/secondary processor-based
// execution controls plus the fields they gate (exception bitmap,
// EPTP, VPID, I/O and MSR bitmap addresses).
type ExecCtl struct {
	Pin   FixedField[uint32]
	Proc1 FixedField[uint32]
	Proc2 FixedField[uint32]

	ExceptionBitmap Field[uint32]
	EPTPointer      Field[uint64]
	VPID            Field[uint16]

	IOBitmapA Field[uint64]
	IOBitmapB Field[uint64]
	MSRBitmap Field[uint64]
}

// ExitCtl groups the VM-exit controls.
type ExitCtl struct {
	Exit FixedField[uint32]
}

// EntryCtl groups the VM-entry controls.
type EntryCtl struct {
	Entry FixedField[uint32]
}

// Ctl groups all three control-field families.
type Ctl struct {
	Exec  ExecCtl
	Exit  ExitCtl
	Entry EntryCtl
}

// ExitInfo groups the read-only fields KVM_RUN populates: VM-exit
// reason, qualification, interruption-information, IDT-vectoring
// info, and instruction length. Clear drops every field's cached
// read flag (they're read-only, so there is never anything to flush).
type ExitInfo struct {
	Reason              Field[uint32]
	Qualification       Field[uint64]
	IntrInfo            Field[uint32]
	IntrErrCode         Field[uint32]
	IDTVectoringInfo    Field[uint32]
	IDTVectoringErrCode Field[uint32]
	InstructionLen      Field[uint32]
	VMInstructionError  Field[uint32]
}

// Clear drops the cached read flag on every exit-info field.
func (e *ExitInfo) Clear() {
	e.Reason.ClearRead()
	e.Qualification.ClearRead()
	e.IntrInfo.ClearRead()
	e.IntrErrCode.ClearRead()
	e.IDTVectoringInfo.ClearRead()
	e.IDTVectoringErrCode.ClearRead()
	e.InstructionLen.ClearRead()
	e.VMInstructionError.ClearRead()
}

// BasicReason returns the low 16 bits of the cached exit-reason field,
// per spec.md §4.6 step 1.
func (e *ExitInfo) BasicReason() uint16 { return uint16(e.Reason.Get()) }

// VMCS is the full mirror: guest, host, control, and exit-info field
// groups, plus the revision ID every hardware VMCS region starts with.
type VMCS struct {
	RevisionID uint32

	Guest Guest
	Host  Host
	Ctrl  Ctl
	Exit  ExitInfo
}

// New returns a zero-valued VMCS mirror ready for Init.
func New() *VMCS { return &VMCS{} }

// assigner hands out Encoding values while enforcing the encoding
// injectivity invariant (spec.md §8): assigning the same encoding
// twice is a programming error in this package, not a runtime
// condition a caller can trigger, so it panics immediately.
type assigner struct{ seen map[Encoding]bool }

func newAssigner() *assigner { return &assigner{seen: make(map[Encoding]bool)} }

func (a *assigner) take(enc Encoding) Encoding {
	if a.seen[enc] {
		panic(fmt.Sprintf("vmcs: encoding %#x assigned twice", enc))
	}

	a.seen[enc] = true

	return enc
}

func (a *assigner) seg(s *SegDesc, sel, base, limit, access Encoding) {
	s.Selector.setEncoding(a.take(sel))
	s.Base.setEncoding(a.take(base))
	s.Limit.setEncoding(a.take(limit))
	s.Access.setEncoding(a.take(access))
}

func (a *assigner) dtr(d *DTR, base, limit Encoding) {
	d.Base.setEncoding(a.take(base))
	d.Limit.setEncoding(a.take(limit))
}

// Encode assigns every field in v its Intel VMCS encoding exactly
// once, per spec.md §4.5 step 3. It must run before Commit.
func Encode(v *VMCS) {
	a := newAssigner()

	g := &v.Guest
	g.CR0.setEncoding(a.take(EncGuestCR0))
	g.CR2.setEncoding(a.take(EncGuestCR2Fake))
	g.CR3.setEncoding(a.take(EncGuestCR3))
	g.CR4.setEncoding(a.take(EncGuestCR4))
	g.DR6.setEncoding(a.take(EncGuestDR6Fake))
	g.DR7.setEncoding(a.take(EncGuestDR7))
	g.RSP.setEncoding(a.take(EncGuestRSP))
	g.RIP.setEncoding(a.take(EncGuestRIP))
	g.RFLAGS.setEncoding(a.take(EncGuestRFLAGS))

	a.seg(&g.ES, EncGuestESSelector, EncGuestESBase, EncGuestESLimit, EncGuestESAccessRights)
	a.seg(&g.CS, EncGuestCSSelector, EncGuestCSBase, EncGuestCSLimit, EncGuestCSAccessRights)
	a.seg(&g.SS, EncGuestSSSelector, EncGuestSSBase, EncGuestSSLimit, EncGuestSSAccessRights)
	a.seg(&g.DS, EncGuestDSSelector, EncGuestDSBase, EncGuestDSLimit, EncGuestDSAccessRights)
	a.seg(&g.FS, EncGuestFSSelector, EncGuestFSBase, EncGuestFSLimit, EncGuestFSAccessRights)
	a.seg(&g.GS, EncGuestGSSelector, EncGuestGSBase, EncGuestGSLimit, EncGuestGSAccessRights)
	a.seg(&g.LDTR, EncGuestLDTRSelector, EncGuestLDTRBase, EncGuestLDTRLimit, EncGuestLDTRAccessRights)
	a.seg(&g.TR, EncGuestTRSelector, EncGuestTRBase, EncGuestTRLimit, EncGuestTRAccessRights)

	a.dtr(&g.GDTR, EncGuestGDTRBase, EncGuestGDTRLimit)
	a.dtr(&g.IDTR, EncGuestIDTRBase, EncGuestIDTRLimit)

	g.IA32SysenterCS.setEncoding(a.take(EncGuestSysenterCS))
	g.IA32SysenterESP.setEncoding(a.take(EncGuestSysenterESP))
	g.IA32SysenterEIP.setEncoding(a.take(EncGuestSysenterEIP))
	g.IA32PAT.setEncoding(a.take(EncGuestIA32PAT))
	g.IA32EFER.setEncoding(a.take(EncGuestIA32EFER))
	g.ActivityState.setEncoding(a.take(EncGuestActivityState))
	g.VMCSLinkPointer.setEncoding(a.take(EncVMCSLinkPointer))

	h := &v.Host
	h.CR0.setEncoding(a.take(EncHostCR0))
	h.CR3.setEncoding(a.take(EncHostCR3))
	h.CR4.setEncoding(a.take(EncHostCR4))
	h.RSP.setEncoding(a.take(EncHostRSP))
	h.RIP.setEncoding(a.take(EncHostRIP))
	h.CS.setEncoding(a.take(EncHostCSSelector))
	h.SS.setEncoding(a.take(EncHostSSSelector))
	h.DS.setEncoding(a.take(EncHostDSSelector))
	h.ES.setEncoding(a.take(EncHostESSelector))
	h.FS.setEncoding(a.take(EncHostFSSelector))
	h.GS.setEncoding(a.take(EncHostGSSelector))
	h.TR.setEncoding(a.take(EncHostTRSelector))
	h.FSBase.setEncoding(a.take(EncHostFSBase))
	h.GSBase.setEncoding(a.take(EncHostGSBase))
	h.TRBase.setEncoding(a.take(EncHostTRBase))
	h.GDTRBase.setEncoding(a.take(EncHostGDTRBase))
	h.IDTRBase.setEncoding(a.take(EncHostIDTRBase))
	h.IA32SysenterCS.setEncoding(a.take(EncHostIA32SysenterCS))
	h.IA32SysenterESP.setEncoding(a.take(EncHostSysenterESP))
	h.IA32SysenterEIP.setEncoding(a.take(EncHostSysenterEIP))
	h.IA32PAT.setEncoding(a.take(EncHostIA32PAT))
	h.IA32EFER.setEncoding(a.take(EncHostIA32EFER))

	c := &v.Ctrl
	c.Exec.Pin.setEncoding(a.take(EncPinBasedVMExecControl))
	c.Exec.Proc1.setEncoding(a.take(EncCPUBasedVMExecControl))
	c.Exec.Proc2.setEncoding(a.take(EncSecondaryVMExecControl))
	c.Exec.ExceptionBitmap.setEncoding(a.take(EncExceptionBitmap))
	c.Exec.EPTPointer.setEncoding(a.take(EncEPTPointer))
	c.Exec.VPID.setEncoding(a.take(EncVPID))
	c.Exec.IOBitmapA.setEncoding(a.take(EncIOBitmapA))
	c.Exec.IOBitmapB.setEncoding(a.take(EncIOBitmapB))
	c.Exec.MSRBitmap.setEncoding(a.take(EncMSRBitmap))
	c.Exit.Exit.setEncoding(a.take(EncVMExitControls))
	c.Entry.Entry.setEncoding(a.take(EncVMEntryControls))

	e := &v.Exit
	e.Reason.setEncoding(a.take(EncVMExitReason))
	e.Qualification.setEncoding(a.take(EncExitQualification))
	e.IntrInfo.setEncoding(a.take(EncVMExitIntrInfo))
	e.IntrErrCode.setEncoding(a.take(EncVMExitIntrErrCode))
	e.IDTVectoringInfo.setEncoding(a.take(EncIDTVectoringInfo))
	e.IDTVectoringErrCode.setEncoding(a.take(EncIDTVectoringErrCode))
	e.InstructionLen.setEncoding(a.take(EncVMExitInstructionLen))
	e.VMInstructionError.setEncoding(a.take(EncVMInstructionError))
}

// InitParams bundles everything Init needs beyond what it can compute
// itself: live host register/MSR snapshots, the VMM's own GDT layout,
// and the VMX capability MSR allow-masks for every fixed-bit field.
type InitParams struct {
	HostCR0, HostCR3, HostCR4 uint64
	HostRSP, HostRIP          uint64
	HostGDTRBase, HostIDTRBase uint64
	HostTRBase                uint64
	HostFSBase, HostGSBase     uint64

	CodeSelector, DataSelector, TSSSelector uint16

	HostSysenterCS       uint32
	HostSysenterESP, HostSysenterEIP uint64
	HostPAT, HostEFER    uint64

	BaseSS, BaseSP, BaseIP uint16

	EPTPointer uint64
	VPID       uint16

	PinAllow0, PinAllow1     uint32
	Proc1Allow0, Proc1Allow1 uint32
	Proc2Allow0, Proc2Allow1 uint32
	ExitAllow0, ExitAllow1   uint32
	EntryAllow0, EntryAllow1 uint32
}

// VMX control request bits this VMM always asks for; FixedBits then
// forces in whatever the capability MSR additionally requires and
// forces out whatever it forbids.
const (
	pinReqNone = 0

	proc1ReqTSCOffsetting = 1 << 3
	proc1ReqSecondaryCtls = 1 << 31
	proc1ReqUseIOBitmaps  = 1 << 25
	proc1ReqUseMSRBitmaps = 1 << 28

	proc2ReqEnableEPT            = 1 << 1
	proc2ReqEnableVPID           = 1 << 5
	proc2ReqUnrestrictedGuest    = 1 << 7
	proc2ReqEnableRDTSCP         = 1 << 3

	exitReqAckInterruptOnExit = 1 << 15
	exitReqHost64BitMode      = 1 << 9
	exitReqLoadIA32EFER       = 1 << 21
	exitReqSaveIA32EFER       = 1 << 20
	exitReqSaveIA32PAT        = 1 << 18
	exitReqLoadIA32PAT        = 1 << 19
	exitReqLoadPerfGlobalCtl  = 1 << 12

	entryReqLoadIA32EFER      = 1 << 15
	entryReqLoadIA32PAT       = 1 << 14
	entryReqLoadPerfGlobalCtl = 1 << 13
)

// Init populates every guest/host/control field with its starting
// value, per spec.md §4.5 step 2: host fields mirror the hypervisor's
// own live register/MSR state, guest fields describe real-mode startup
// at BASE_SS:BASE_SP / BASE_IP, and control fields request the feature
// set unrestricted-guest real-mode emulation needs (EPT, VPID, RDTSCP,
// I/O and MSR bitmap use, TSC-offsetting) masked through each field's
// VMX capability MSR.
func Init(v *VMCS, p InitParams) {
	h := &v.Host
	h.CR0.Set(p.HostCR0)
	h.CR3.Set(p.HostCR3)
	h.CR4.Set(p.HostCR4)
	h.RSP.Set(p.HostRSP)
	h.RIP.Set(p.HostRIP)
	h.CS.Set(p.CodeSelector)
	h.SS.Set(p.DataSelector)
	h.DS.Set(p.DataSelector)
	h.ES.Set(p.DataSelector)
	h.FS.Set(p.DataSelector)
	h.GS.Set(p.DataSelector)
	h.TR.Set(p.TSSSelector)
	h.FSBase.Set(p.HostFSBase)
	h.GSBase.Set(p.HostGSBase)
	h.TRBase.Set(p.HostTRBase)
	h.GDTRBase.Set(p.HostGDTRBase)
	h.IDTRBase.Set(p.HostIDTRBase)
	h.IA32SysenterCS.Set(p.HostSysenterCS)
	h.IA32SysenterESP.Set(p.HostSysenterESP)
	h.IA32SysenterEIP.Set(p.HostSysenterEIP)
	h.IA32PAT.Set(p.HostPAT)
	h.IA32EFER.Set(p.HostEFER)

	g := &v.Guest
	g.CR0.Set(p.HostCR0 &^ (1<<31 | 1<<0)) // PG and PE cleared: real-mode startup
	g.CR2.Set(0)
	g.CR2.Kind = FakeCR2
	g.CR3.Set(0)
	g.CR4.Set(p.HostCR4)
	g.DR6.Set(0)
	g.DR6.Kind = FakeDR6
	g.DR7.Set(0x400)

	g.RFLAGS.Set(rflagsReserved1 | rflagsIF)
	g.RSP.Set(uint64(p.BaseSP))
	g.RIP.Set(uint64(p.BaseIP))

	initRealModeSeg(&g.CS, 0, segAccessCode16)
	g.CS.Selector.Set(0)

	initRealModeSeg(&g.SS, uint64(p.BaseSS)<<4, segAccessData16)
	g.SS.Selector.Set(p.BaseSS)

	initRealModeSeg(&g.DS, 0, segAccessData16)
	initRealModeSeg(&g.ES, 0, segAccessData16)
	initRealModeSeg(&g.FS, 0, segAccessData16)
	initRealModeSeg(&g.GS, 0, segAccessData16)

	g.TR.Selector.Set(0)
	g.TR.Base.Set(0)
	g.TR.Limit.Set(0xFFFF)
	g.TR.Access.Set(segAccessTSS32Busy)

	g.LDTR.Selector.Set(0)
	g.LDTR.Base.Set(0)
	g.LDTR.Limit.Set(0xFFFF)
	g.LDTR.Access.Set(segAccessUnusable)

	g.GDTR.Base.Set(0)
	g.GDTR.Limit.Set(0xFFFF)
	g.IDTR.Base.Set(0)
	g.IDTR.Limit.Set(0xFFFF)

	g.IA32SysenterCS.Set(0)
	g.IA32SysenterESP.Set(0)
	g.IA32SysenterEIP.Set(0)
	g.IA32PAT.Set(p.HostPAT)
	g.IA32EFER.Set(0)
	g.ActivityState.Set(ActivityActive)
	g.VMCSLinkPointer.Set(^uint64(0))

	c := &v.Ctrl
	c.Exec.Pin.Set(pinReqNone)
	c.Exec.Pin.SetMask(p.PinAllow0, p.PinAllow1)

	c.Exec.Proc1.Set(proc1ReqTSCOffsetting | proc1ReqSecondaryCtls | proc1ReqUseIOBitmaps | proc1ReqUseMSRBitmaps)
	c.Exec.Proc1.SetMask(p.Proc1Allow0, p.Proc1Allow1)

	c.Exec.Proc2.Set(proc2ReqEnableEPT | proc2ReqEnableVPID | proc2ReqUnrestrictedGuest | proc2ReqEnableRDTSCP)
	c.Exec.Proc2.SetMask(p.Proc2Allow0, p.Proc2Allow1)

	c.Exec.ExceptionBitmap.Set(cpu.ExceptionBitmap())
	c.Exec.EPTPointer.Set(p.EPTPointer)
	c.Exec.VPID.Set(p.VPID)

	c.Exit.Exit.Set(exitReqAckInterruptOnExit | exitReqHost64BitMode |
		exitReqLoadIA32EFER | exitReqSaveIA32EFER | exitReqLoadIA32PAT | exitReqSaveIA32PAT |
		exitReqLoadPerfGlobalCtl)
	c.Exit.Exit.SetMask(p.ExitAllow0, p.ExitAllow1)

	c.Entry.Entry.Set(entryReqLoadIA32EFER | entryReqLoadIA32PAT | entryReqLoadPerfGlobalCtl)
	c.Entry.Entry.SetMask(p.EntryAllow0, p.EntryAllow1)
}

func initRealModeSeg(s *SegDesc, base uint64, access uint32) {
	s.Base.Set(base)
	s.Limit.Set(0xFFFF)
	s.Access.Set(uint32(access))
}

// Commit flushes every dirty guest/control field to the live vcpu
// through KVM's register ioctls, per spec.md §4.5 step 4 (and the
// per-VM-exit epilogue of §4.6 step 5). Host fields are never written
// back (see Host's doc comment). The fixed-masked guest CR0 and CR4 are
// masked through cpu.FixedBits immediately before being folded into
// the committed Sregs snapshot; control fields reach no ioctl and only
// have their dirty bits cleared (see the comment at the end).
func Commit(vcpuFd uintptr, v *VMCS) error {
	sregs, err := kvm.GetSregs(vcpuFd)
	if err != nil {
		return fmt.Errorf("vmcs: commit: get sregs: %w", err)
	}

	regs, err := kvm.GetRegs(vcpuFd)
	if err != nil {
		return fmt.Errorf("vmcs: commit: get regs: %w", err)
	}

	dregs := &kvm.DebugRegs{}
	if err := kvm.GetDebugRegs(vcpuFd, dregs); err != nil {
		return fmt.Errorf("vmcs: commit: get debug regs: %w", err)
	}

	g := &v.Guest

	commitSeg(&sregs.CS, &g.CS)
	commitSeg(&sregs.SS, &g.SS)
	commitSeg(&sregs.DS, &g.DS)
	commitSeg(&sregs.ES, &g.ES)
	commitSeg(&sregs.FS, &g.FS)
	commitSeg(&sregs.GS, &g.GS)
	commitSeg(&sregs.TR, &g.TR)
	commitSeg(&sregs.LDT, &g.LDTR)

	sregs.GDT.Base, _ = g.GDTR.Base.Flush()
	if lim, dirty := g.GDTR.Limit.Flush(); dirty {
		sregs.GDT.Limit = uint16(lim)
	}

	sregs.IDT.Base, _ = g.IDTR.Base.Flush()
	if lim, dirty := g.IDTR.Limit.Flush(); dirty {
		sregs.IDT.Limit = uint16(lim)
	}

	if _, dirty := g.CR0.Flush(); dirty {
		sregs.CR0 = g.CR0.Committed(cpu.FixedBits)
	}

	sregs.CR3, _ = g.CR3.Flush()

	if _, dirty := g.CR4.Flush(); dirty {
		sregs.CR4 = uint64(g.CR4.Committed(cpu.FixedBits))
	}

	sregs.EFER, _ = g.IA32EFER.Flush()

	if val, dirty := g.CR2.Flush(); dirty {
		sregs.CR2 = val
	}

	if val, dirty := g.DR6.Flush(); dirty {
		dregs.DR6 = val
	}

	dregs.DR7, _ = g.DR7.Flush()

	if err := kvm.SetSregs(vcpuFd, sregs); err != nil {
		return fmt.Errorf("vmcs: commit: set sregs: %w", err)
	}

	if err := kvm.SetDebugRegs(vcpuFd, dregs); err != nil {
		return fmt.Errorf("vmcs: commit: set debug regs: %w", err)
	}

	regs.RSP, _ = g.RSP.Flush()
	regs.RIP, _ = g.RIP.Flush()
	regs.RFLAGS, _ = g.RFLAGS.Flush()

	if err := kvm.SetRegs(vcpuFd, regs); err != nil {
		return fmt.Errorf("vmcs: commit: set regs: %w", err)
	}

	// Control fields have no literal per-field ioctl counterpart: KVM's
	// in-kernel VMX management owns the actual hardware VMCS execution
	// controls. Flushing here still clears every field's dirty bit so
	// the mirror's cache-and-commit protocol behaves uniformly, and the
	// masked value remains inspectable for the fixed-bit invariant.
	v.Ctrl.Exec.Pin.Flush()
	v.Ctrl.Exec.Proc1.Flush()
	v.Ctrl.Exec.Proc2.Flush()
	v.Ctrl.Exec.ExceptionBitmap.Flush()
	v.Ctrl.Exec.EPTPointer.Flush()
	v.Ctrl.Exec.VPID.Flush()
	v.Ctrl.Exec.IOBitmapA.Flush()
	v.Ctrl.Exec.IOBitmapB.Flush()
	v.Ctrl.Exec.MSRBitmap.Flush()
	v.Ctrl.Exit.Exit.Flush()
	v.Ctrl.Entry.Entry.Flush()

	return nil
}

func commitSeg(dst *kvm.Segment, s *SegDesc) {
	if sel, dirty := s.Selector.Flush(); dirty {
		dst.Selector = sel
	}

	if base, dirty := s.Base.Flush(); dirty {
		dst.Base = base
	}

	if limit, dirty := s.Limit.Flush(); dirty {
		dst.Limit = limit
	}

	if access, dirty := s.Access.Flush(); dirty {
		dst.Unusable = 0
		if access&segAccessUnusable != 0 {
			dst.Unusable = 1
		}

		dst.Typ = uint8(access & 0xF)
		dst.S = uint8((access >> 4) & 1)
		dst.DPL = uint8((access >> 5) & 3)
		dst.Present = uint8((access >> 7) & 1)
		dst.AVL = uint8((access >> 12) & 1)
		dst.L = uint8((access >> 13) & 1)
		dst.DB = uint8((access >> 14) & 1)
		dst.G = uint8((access >> 15) & 1)
	}
}

// RefreshExitInfo populates Exit from the live kvm_run page after a
// VM-exit: it copies kvm_run's exit_reason, a KVM exit type rather than
// a VMX basic reason, into Reason. The I/O exit payload is decoded by
// the caller via RunData.IO; every other exit-info field keeps its last
// value.
func RefreshExitInfo(e *ExitInfo, run *kvm.RunData) {
	e.Reason.Set(run.ExitReason)
}
