package kvm_test

import (
	"os"
	"testing"

	"github.com/vmxlab/hyperstone/kvm"
)

func TestGetAPIVersionOnRealDevice(t *testing.T) {
	t.Parallel()

	if os.Getuid() != 0 {
		t.Skip("requires root and a /dev/kvm node")
	}

	f, err := os.Open("/dev/kvm")
	if err != nil {
		t.Skip("no /dev/kvm on this host")
	}
	defer f.Close()

	v, err := kvm.GetAPIVersion(f.Fd())
	if err != nil {
		t.Fatalf("GetAPIVersion: %v", err)
	}

	if v != 12 {
		t.Errorf("API version = %d, want 12", v)
	}
}

func TestIIOREncodesDirectionAndSize(t *testing.T) {
	t.Parallel()

	a := kvm.IIOR(0x81, 8)
	b := kvm.IIOW(0x81, 8)

	if a == b {
		t.Errorf("IIOR and IIOW must encode different directions for the same nr/size")
	}

	if kvm.IIO(0x01) == kvm.IIOR(0x01, 8) {
		t.Errorf("IIO (no payload) must differ from IIOR with a non-zero size")
	}
}
