package frame_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/frame"
)

func TestMarkRangeSetsOwnerAndRefCount(t *testing.T) {
	t.Parallel()

	r := frame.New(16 * frame.PageSize)

	if err := r.MarkRange(4*frame.PageSize, 8*frame.PageSize, frame.OwnerVMM); err != nil {
		t.Fatalf("MarkRange: %v", err)
	}

	for pfn := uint64(0); pfn < 16; pfn++ {
		d, err := r.At(pfn)
		if err != nil {
			t.Fatalf("At(%d): %v", pfn, err)
		}

		inSecret := pfn >= 4 && pfn < 8

		if inSecret {
			if d.Owner != frame.OwnerVMM || d.RefCount < 1 {
				t.Errorf("pfn %d: got owner=%s refcount=%d, want VMM/>=1", pfn, d.Owner, d.RefCount)
			}
		} else if d.Owner != frame.OwnerVM || d.RefCount != 0 {
			t.Errorf("pfn %d: got owner=%s refcount=%d, want VM/0", pfn, d.Owner, d.RefCount)
		}
	}
}

func TestAtOutOfRange(t *testing.T) {
	t.Parallel()

	r := frame.New(frame.PageSize)

	if _, err := r.At(1); err == nil {
		t.Errorf("At(1) on a 1-frame registry: want error, got nil")
	}
}
