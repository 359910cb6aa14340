package vmcs_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/vmcs"
)

func TestEncodeAssignsEveryFieldAUniqueEncoding(t *testing.T) {
	t.Parallel()

	v := vmcs.New()

	// Encode panics on any collision; reaching the end of this call
	// with no panic already proves the injectivity invariant for this
	// run, but a second Encode on a fresh mirror re-checks it from a
	// clean slate.
	vmcs.Encode(v)

	v2 := vmcs.New()
	vmcs.Encode(v2)
}

func TestFixedBitCommitForcesRequiredOnes(t *testing.T) {
	t.Parallel()

	v := vmcs.New()
	vmcs.Encode(v)

	p := vmcs.InitParams{
		PinAllow0: 0x16,
		PinAllow1: 0xFFFFFFFF,
	}

	vmcs.Init(v, p)

	got := v.Ctrl.Exec.Pin.Committed(cpu.FixedBits)
	if got != 0x16 {
		t.Errorf("committed pin-based controls = %#x, want 0x16", got)
	}
}

func TestInitSetsRealModeGuestStartupState(t *testing.T) {
	t.Parallel()

	v := vmcs.New()
	vmcs.Encode(v)

	p := vmcs.InitParams{
		BaseSS: 0x9FB0,
		BaseSP: 0xFFFC,
		BaseIP: 0x7C00,
	}

	vmcs.Init(v, p)

	if got := v.Guest.RSP.Get(); got != 0xFFFC {
		t.Errorf("guest RSP = %#x, want 0xFFFC", got)
	}

	if got := v.Guest.RIP.Get(); got != 0x7C00 {
		t.Errorf("guest RIP = %#x, want 0x7C00", got)
	}

	if got := v.Guest.RFLAGS.Get(); got&(1<<9) == 0 {
		t.Errorf("guest RFLAGS = %#x, IF should be set", got)
	}

	if got := v.Guest.CS.Base.Get(); got != 0 {
		t.Errorf("guest CS base = %#x, want 0", got)
	}

	if got := v.Guest.SS.Base.Get(); got != 0x9FB00 {
		t.Errorf("guest SS base = %#x, want 0x9FB00", got)
	}

	if got := v.Guest.VMCSLinkPointer.Get(); got != ^uint64(0) {
		t.Errorf("VMCS link pointer = %#x, want all-ones", got)
	}

	if got := v.Ctrl.Exec.ExceptionBitmap.Get(); got != cpu.ExceptionBitmap() {
		t.Errorf("exception bitmap = %#x, want %#x", got, cpu.ExceptionBitmap())
	}
}

func TestExitInfoBasicReasonIsLow16Bits(t *testing.T) {
	t.Parallel()

	v := vmcs.New()
	vmcs.Encode(v)

	v.Exit.Reason.Set(0x80000002) // valid-vmexit bit set + reason 2
	if got := v.Exit.BasicReason(); got != 2 {
		t.Errorf("BasicReason = %#x, want 2", got)
	}
}

func TestExitInfoClearDropsReadFlagsOnly(t *testing.T) {
	t.Parallel()

	v := vmcs.New()
	vmcs.Encode(v)

	v.Exit.Reason.Set(7)
	v.Exit.Reason.Get()
	v.Exit.Clear()

	// Clear must not lose the cached value, only the read flag.
	if got := v.Exit.Reason.Get(); got != 7 {
		t.Errorf("exit reason after Clear = %#x, want 7", got)
	}
}
