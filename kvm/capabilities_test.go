package kvm_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/kvm"
)

func TestCapabilityString(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name  string
		value kvm.Capability
		want  string
	}{
		{"irqchip", kvm.CapIRQChip, "CapIRQChip"},
		{"mpstate", kvm.CapMPState, "CapMPState"},
		{"iommu", kvm.CapIOMMU, "CapIOMMU"},
		{"irqrouting", kvm.CapIRQRouting, "CapIRQRouting"},
		{"kvmclockctrl", kvm.CapKVMClockCtrl, "CapKVMClockCtrl"},
		{"unknown", kvm.Capability(255), "Capability(255)"},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if got := test.value.String(); got != test.want {
				t.Errorf("have: %s, want: %s", got, test.want)
			}
		})
	}
}
