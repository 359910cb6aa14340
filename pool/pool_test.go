package pool_test

import (
	"testing"

	"github.com/vmxlab/hyperstone/pool"
)

func TestAllocZeroesAndBumps(t *testing.T) {
	t.Parallel()

	mem := make([]byte, 4*pool.PageSize)
	for i := range mem {
		mem[i] = 0xFF
	}

	p, err := pool.New(0x1000, mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if a != 0x1000 {
		t.Errorf("first frame addr = %#x, want 0x1000", a)
	}

	frame, err := p.Frame(a)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	for i, b := range frame {
		if b != 0 {
			t.Fatalf("frame byte %d = %#x, want 0", i, b)
		}
	}

	b, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if b != 0x2000 {
		t.Errorf("second frame addr = %#x, want 0x2000", b)
	}
}

func TestAllocExhausted(t *testing.T) {
	t.Parallel()

	mem := make([]byte, pool.PageSize)

	p, err := pool.New(0, mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Alloc(); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}

	if _, err := p.Alloc(); err != pool.ErrOutOfMemory {
		t.Errorf("second Alloc err = %v, want ErrOutOfMemory", err)
	}
}
