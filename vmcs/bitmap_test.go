package vmcs_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/vmcs"
)

func TestMSRBitmapDenyAllowRoundTrip(t *testing.T) {
	t.Parallel()

	var b vmcs.MSRBitmap

	const msr = 0x174 // IA32_SYSENTER_CS

	b.DenyRead(msr)

	if b[msr/8]&(1<<(msr%8)) == 0 {
		t.Fatal("DenyRead did not set the read-intercept bit")
	}

	b.AllowRead(msr)

	if b[msr/8]&(1<<(msr%8)) != 0 {
		t.Fatal("AllowRead did not clear the read-intercept bit")
	}
}

func TestMSRBitmapHighMSRUsesHighQuadrant(t *testing.T) {
	t.Parallel()

	var b vmcs.MSRBitmap

	const msr = 0xC0000080 // IA32_EFER

	b.DenyWrite(msr)

	// write-high quadrant starts at byte 3072.
	off := 3072 + int(msr-0xC0000000)/8
	if b[off] == 0 {
		t.Fatal("DenyWrite for a high MSR did not touch the write-high quadrant")
	}
}

func TestIOBitmapDenyAllow(t *testing.T) {
	t.Parallel()

	var b vmcs.IOBitmap

	const port = 0x3F8 // COM1

	b.Deny(port)

	if b[port/8]&(1<<(port%8)) == 0 {
		t.Fatal("Deny did not set the intercept bit")
	}

	b.Allow(port)

	if b[port/8]&(1<<(port%8)) != 0 {
		t.Fatal("Allow did not clear the intercept bit")
	}
}
