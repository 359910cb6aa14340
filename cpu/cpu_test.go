package cpu_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/cpu"
)

func TestFixedBitsForcesRequiredOnes(t *testing.T) {
	t.Parallel()

	got := cpu.FixedBits(0, 0x16, 0xFFFFFFFF)
	if got != 0x16 {
		t.Errorf("FixedBits(0, 0x16, -1) = %#x, want 0x16", got)
	}
}

func TestFixedBitsClearsForbiddenOnes(t *testing.T) {
	t.Parallel()

	got := cpu.FixedBits(0xFF, 0, 0x0F)
	if got != 0x0F {
		t.Errorf("FixedBits(0xFF, 0, 0x0F) = %#x, want 0x0F", got)
	}
}

func TestFeatureControlOK(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		val  uint64
		want bool
	}{
		{"unlocked", 0x0, true},
		{"locked with vmx bit", 0x1 | 0x4, true},
		{"locked without vmx bit", 0x1, false},
	}

	for _, c := range cases {
		if got := cpu.FeatureControlOK(c.val); got != c.want {
			t.Errorf("%s: FeatureControlOK(%#x) = %v, want %v", c.name, c.val, got, c.want)
		}
	}
}

func TestFixedRangesCoverOneMebibyte(t *testing.T) {
	t.Parallel()

	ranges := cpu.FixedRanges()
	if len(ranges) != 88 {
		t.Fatalf("len(FixedRanges()) = %d, want 88", len(ranges))
	}

	var total uint64
	for _, r := range ranges {
		total += r.Size
	}

	if total != 0x100000 {
		t.Errorf("fixed ranges total %#x bytes, want 0x100000", total)
	}
}

func TestVariableRangesDecodesMTRRScenario(t *testing.T) {
	t.Parallel()

	// One variable MTRR covering 0xA0000 and up as UC, per the EPT
	// identity-map + MTRR scenario. maskAddr is kept page-aligned since
	// the mask register's low 12 bits are flags, not address.
	const maxPAddrBits = 36

	maxPAddr := uint64(1) << maxPAddrBits
	maskAddr := maxPAddr - 0x20000
	wantSize := maxPAddr - maskAddr + 1

	bases := []uint64{0xA0000 | uint64(cpu.MTRRUncacheable)}
	masks := []uint64{maskAddr | (1 << 11)}

	got := cpu.VariableRanges(bases, masks, maxPAddrBits)
	if len(got) != 1 {
		t.Fatalf("len(VariableRanges) = %d, want 1", len(got))
	}

	if got[0].Base != 0xA0000 || got[0].Size != wantSize || got[0].Type != cpu.MTRRUncacheable {
		t.Errorf("VariableRanges = %+v, want base=0xA0000 size=%#x type=UC", got[0], wantSize)
	}
}
