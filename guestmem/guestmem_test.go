package guestmem_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/guestmem"
	"github.com/vmxlab/hyperstone/smem"
)

func newSpace(t *testing.T, size int) *guestmem.Space {
	t.Helper()

	return &guestmem.Space{
		Mem:  make([]byte, size),
		Area: smem.SecretArea{Start: uint64(size - 0x1000), End: uint64(size)},
	}
}

func TestAccessRejectsSecretAreaOverlap(t *testing.T) {
	t.Parallel()

	s := newSpace(t, 0x10000)

	buf := make([]byte, 4)

	err := s.Access(guestmem.ModeReal, s.Area.Start, buf, false)
	if err == nil {
		t.Fatal("Access into the secret area should fail")
	}
}

func TestAccessRejectsPagedMode(t *testing.T) {
	t.Parallel()

	s := newSpace(t, 0x10000)

	buf := make([]byte, 4)
	if err := s.Access(guestmem.ModePaged, 0, buf, false); err != guestmem.ErrPaged {
		t.Errorf("Access in paged mode = %v, want ErrPaged", err)
	}
}

func TestPushRealWrapsAcrossZero(t *testing.T) {
	t.Parallel()

	s := newSpace(t, 0x20000)

	stack := &guestmem.SegSP{Base: 0, SP: 0}

	if err := PushRealOK(t, s, stack, 2, 0xABCD); err != nil {
		t.Fatalf("PushReal: %v", err)
	}

	if stack.SP != 0xFFFE {
		t.Errorf("SP after push across 0 = %#x, want 0xFFFE", stack.SP)
	}

	got, err := guestmem.PopReal(s, guestmem.ModeReal, stack, 2)
	if err != nil {
		t.Fatalf("PopReal: %v", err)
	}

	if got != 0xABCD {
		t.Errorf("popped value = %#x, want 0xABCD", got)
	}

	if stack.SP != 0 {
		t.Errorf("SP after pop = %#x, want 0", stack.SP)
	}
}

func PushRealOK(t *testing.T, s *guestmem.Space, stack *guestmem.SegSP, width uint16, value uint64) error {
	t.Helper()

	return guestmem.PushReal(s, guestmem.ModeReal, stack, width, value)
}

// TestInt19PushSequence reproduces the real-mode INT 0x19 scenario:
// SS=0x9FB0 SP=0xFFFC rflags=0x0202, old CS=0, old IP=0x0600, isz=2.
func TestInt19PushSequence(t *testing.T) {
	t.Parallel()

	s := newSpace(t, 0x100000)

	stack := &guestmem.SegSP{Base: 0x9FB00, SP: 0xFFFC}

	const rflags = 0x0202
	const oldCS = 0
	const oldIP = 0x0600
	const isz = 2

	if err := guestmem.PushReal(s, guestmem.ModeReal, stack, 2, rflags); err != nil {
		t.Fatalf("push rflags: %v", err)
	}

	if err := guestmem.PushReal(s, guestmem.ModeReal, stack, 2, oldCS); err != nil {
		t.Fatalf("push cs: %v", err)
	}

	if err := guestmem.PushReal(s, guestmem.ModeReal, stack, 2, oldIP+isz); err != nil {
		t.Fatalf("push ip: %v", err)
	}

	if stack.SP != 0xFFF6 {
		t.Errorf("final SP = %#x, want 0xFFF6", stack.SP)
	}

	readAt := func(off uint16) uint16 {
		buf := make([]byte, 2)
		if err := s.Access(guestmem.ModeReal, stack.Base+uint64(off), buf, false); err != nil {
			t.Fatalf("read at %#x: %v", off, err)
		}

		return uint16(buf[0]) | uint16(buf[1])<<8
	}

	if got := readAt(0xFFFA); got != rflags {
		t.Errorf("rflags at SP+4 (0xFFFA) = %#x, want %#x", got, rflags)
	}

	if got := readAt(0xFFF8); got != oldCS {
		t.Errorf("old CS at 0xFFF8 = %#x, want %#x", got, oldCS)
	}

	if got := readAt(0xFFF6); got != oldIP+isz {
		t.Errorf("old IP+isz at 0xFFF6 = %#x, want %#x", got, oldIP+isz)
	}
}
