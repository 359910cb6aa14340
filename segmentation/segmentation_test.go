package segmentation_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/segmentation"
)

func TestBuildGDTSizeAndSelectors(t *testing.T) {
	t.Parallel()

	gdt := segmentation.BuildGDT(0x10000, segmentation.TSSSize-1)
	if len(gdt) != segmentation.GDTSize {
		t.Fatalf("len(gdt) = %d, want %d", len(gdt), segmentation.GDTSize)
	}

	// Code descriptor's access byte lives at offset 5 of its 8-byte slot.
	codeAccess := gdt[segmentation.CodeSelector+5]
	if codeAccess&0x80 == 0 {
		t.Errorf("code descriptor present bit not set: %#x", codeAccess)
	}

	tssLow := gdt[segmentation.TSSSelector : segmentation.TSSSelector+8]
	base := uint64(tssLow[2]) | uint64(tssLow[3])<<8 | uint64(tssLow[4])<<16 | uint64(gdt[segmentation.TSSSelector+7])<<24
	if base != 0x10000 {
		t.Errorf("TSS descriptor base = %#x, want 0x10000", base)
	}
}

func TestBuildIDTEncodesStubAddresses(t *testing.T) {
	t.Parallel()

	const stubBase = 0x400000
	const stride = 16

	idt := segmentation.BuildIDT(stubBase, stride, segmentation.CodeSelector)
	if len(idt) != segmentation.IDTSize {
		t.Fatalf("len(idt) = %d, want %d", len(idt), segmentation.IDTSize)
	}

	checkVector := func(v int) {
		g := idt[v*16:]

		low := uint64(g[0]) | uint64(g[1])<<8
		mid := uint64(g[6]) | uint64(g[7])<<8
		high := uint64(g[8]) | uint64(g[9])<<8 | uint64(g[10])<<16 | uint64(g[11])<<24
		got := low | mid<<16 | high<<32

		want := uint64(stubBase + v*stride)
		if got != want {
			t.Errorf("vector %d stub addr = %#x, want %#x", v, got, want)
		}

		if g[5]&0x80 == 0 {
			t.Errorf("vector %d gate not marked present", v)
		}
	}

	checkVector(0)
	checkVector(13)
	checkVector(255)
}
