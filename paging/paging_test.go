package paging_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/paging"
	"github.com/vmxlab/hyperstone/pool"
)

const testPoolFrames = 16

func newEngine(t *testing.T) (*paging.Engine[paging.Native], *paging.Env) {
	t.Helper()

	mem := make([]byte, testPoolFrames*pool.PageSize)

	p, err := pool.New(0, mem)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}

	root, err := p.Alloc()
	if err != nil {
		t.Fatalf("root alloc: %v", err)
	}

	return paging.New(paging.Native{}, p), &paging.Env{Root: root}
}

func TestMapZeroLengthIsNoop(t *testing.T) {
	t.Parallel()

	e, env := newEngine(t)

	if err := e.Map(env, 0x1000, 0x1000, paging.Config{}); err != nil {
		t.Fatalf("Map: %v", err)
	}
}

func TestMapUnmapRoundTrip(t *testing.T) {
	t.Parallel()

	e, env := newEngine(t)

	const size = 0x4000 // four 4 KiB pages

	if err := e.Map(env, 0, size, paging.Config{}); err != nil {
		t.Fatalf("Map: %v", err)
	}

	if err := e.Unmap(env, 0, size); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	// After unmap, walking to map a fresh identity range must succeed
	// again, proving the cleared entries are no longer "present".
	if err := e.Map(env, 0, size, paging.Config{}); err != nil {
		t.Fatalf("re-Map after Unmap: %v", err)
	}
}

func TestMapLargePageCoalescesIntoSingleL2Entry(t *testing.T) {
	t.Parallel()

	e, env := newEngine(t)

	const twoMiB = 1 << 21

	conf := paging.Config{Large: true, Pg2M: true}

	if err := e.Map(env, 0, twoMiB, conf); err != nil {
		t.Fatalf("Map: %v", err)
	}

	l4, err := e.Alloc.Frame(env.Root)
	if err != nil {
		t.Fatalf("Frame(L4): %v", err)
	}

	l4Entry := leU64(l4[0:8])
	if l4Entry&1 == 0 {
		t.Fatalf("L4 entry not present")
	}

	l3Addr := l4Entry &^ 0xFFF
	l3, err := e.Alloc.Frame(l3Addr)
	if err != nil {
		t.Fatalf("Frame(L3): %v", err)
	}

	l3Entry := leU64(l3[0:8])
	if l3Entry&1 == 0 {
		t.Fatalf("L3 entry not present")
	}

	l2Addr := l3Entry &^ 0xFFF
	l2, err := e.Alloc.Frame(l2Addr)
	if err != nil {
		t.Fatalf("Frame(L2): %v", err)
	}

	l2Ent := leU64(l2[0:8])
	if l2Ent&1 == 0 {
		t.Fatalf("L2 entry not present")
	}

	if l2Ent&(1<<7) == 0 {
		t.Fatalf("L2 entry is not a large page (PS bit unset): %#x", l2Ent)
	}

	for i := 1; i < 512; i++ {
		if leU64(l2[i*8:i*8+8])&1 != 0 {
			t.Fatalf("L2 entry %d unexpectedly present, expected a single coalesced entry", i)
		}
	}
}

func TestFinestSplitsLargePagePreservingAttributes(t *testing.T) {
	t.Parallel()

	e, env := newEngine(t)

	const twoMiB = 1 << 21

	conf := paging.Config{Large: true, Pg2M: true, PageAttr: 0x5}

	if err := e.Map(env, 0, twoMiB, conf); err != nil {
		t.Fatalf("Map: %v", err)
	}

	if err := e.Finest(env, 0, 0x1000, conf); err != nil {
		t.Fatalf("Finest: %v", err)
	}

	l4, _ := e.Alloc.Frame(env.Root)
	l3Addr := leU64(l4[0:8]) &^ 0xFFF
	l3, _ := e.Alloc.Frame(l3Addr)
	l2Addr := leU64(l3[0:8]) &^ 0xFFF
	l2, _ := e.Alloc.Frame(l2Addr)

	l2Ent := leU64(l2[0:8])
	if l2Ent&(1<<7) != 0 {
		t.Fatalf("L2 entry still marked large after Finest split: %#x", l2Ent)
	}

	l1Addr := l2Ent &^ 0xFFF
	l1, err := e.Alloc.Frame(l1Addr)
	if err != nil {
		t.Fatalf("Frame(L1): %v", err)
	}

	first := leU64(l1[0:8])
	if first&1 == 0 {
		t.Fatalf("L1 entry 0 not present after split")
	}

	if first&0xFFF000 != 0 {
		t.Fatalf("L1 entry 0 should point at frame 0, got %#x", first&^0xFFF)
	}

	wantAttr := (conf.PageAttr & 0x7) << 9

	for i := 0; i < 512; i++ {
		ent := leU64(l1[i*8 : i*8+8])
		if ent&1 == 0 {
			t.Fatalf("L1 entry %d not present after split", i)
		}

		if ent&(0x7<<9) != wantAttr {
			t.Fatalf("L1 entry %d attr = %#x, want %#x (preserved from the split large page)", i, ent&(0x7<<9), wantAttr)
		}
	}
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}
