package mem

import (
	"errors"
	"testing"
	"unsafe"
)

// TestPoolBoundedUpstream allocates two 500-byte blocks from a pool backed
// by a 1300-byte arena, verifies the third allocation fails, and verifies
// that freed blocks are reused LIFO.
func TestPoolBoundedUpstream(t *testing.T) {
	arena := NewArena(make([]byte, 1300))
	pool := NewPool(arena, 500, 8)

	p1, err := pool.Allocate(500, 8)
	if err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}
	p2, err := pool.Allocate(500, 8)
	if err != nil {
		t.Fatalf("second allocation failed: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct blocks, got %p twice", p1)
	}

	if _, err := pool.Allocate(500, 8); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted on third allocation, got %v", err)
	}

	// freed blocks must be reused, most recently freed first
	for i := 0; i < 100; i++ {
		if err := pool.Deallocate(p1, 500, 8); err != nil {
			t.Fatalf("deallocate p1: %v", err)
		}
		if err := pool.Deallocate(p2, 500, 8); err != nil {
			t.Fatalf("deallocate p2: %v", err)
		}

		p4, err := pool.Allocate(500, 8)
		if err != nil {
			t.Fatalf("reuse allocation failed: %v", err)
		}
		p3, err := pool.Allocate(500, 8)
		if err != nil {
			t.Fatalf("reuse allocation failed: %v", err)
		}

		if p3 != p1 || p4 != p2 {
			t.Fatalf("expected LIFO reuse (p3=%p==p1=%p, p4=%p==p2=%p)", p3, p1, p4, p2)
		}
	}
}

// TestPoolLIFODiscipline verifies reuse order over a deeper freelist.
func TestPoolLIFODiscipline(t *testing.T) {
	pool := NewPool(NewSlab(0), 64, 8)

	const n = 16
	blocks := make([]unsafe.Pointer, n)
	for i := range blocks {
		p, err := pool.Allocate(64, 8)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		blocks[i] = p
	}

	for _, p := range blocks {
		if err := pool.Deallocate(p, 64, 8); err != nil {
			t.Fatalf("deallocate: %v", err)
		}
	}

	// reallocation must walk the blocks in reverse deallocation order
	for i := n - 1; i >= 0; i-- {
		p, err := pool.Allocate(64, 8)
		if err != nil {
			t.Fatalf("reallocate: %v", err)
		}
		if p != blocks[i] {
			t.Fatalf("expected block %d (%p), got %p", i, blocks[i], p)
		}
	}
}

// TestPoolStats verifies the observability counters.
func TestPoolStats(t *testing.T) {
	pool := NewPool(NewSlab(0), 32, 8)

	p, _ := pool.Allocate(32, 8)
	if err := pool.Deallocate(p, 32, 8); err != nil {
		t.Fatalf("deallocate: %v", err)
	}
	if _, err := pool.Allocate(32, 8); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	s := pool.Stats()
	if s.Allocs != 2 {
		t.Errorf("expected 2 allocs, got %d", s.Allocs)
	}
	if s.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", s.Misses)
	}
	if s.Frees != 1 {
		t.Errorf("expected 1 free, got %d", s.Frees)
	}
	if s.LinkCells != 1 {
		t.Errorf("expected 1 link cell, got %d", s.LinkCells)
	}
}

// TestPoolLinkCellRecycling verifies that repeated free/alloc cycles reuse
// the same link cell instead of growing upstream usage.
func TestPoolLinkCellRecycling(t *testing.T) {
	pool := NewPool(NewSlab(0), 32, 8)

	p, _ := pool.Allocate(32, 8)
	for i := 0; i < 1000; i++ {
		if err := pool.Deallocate(p, 32, 8); err != nil {
			t.Fatalf("deallocate: %v", err)
		}
		if p, _ = pool.Allocate(32, 8); p == nil {
			t.Fatal("allocate returned nil")
		}
	}

	if cells := pool.Stats().LinkCells; cells != 1 {
		t.Errorf("expected exactly 1 link cell for a depth-1 freelist, got %d", cells)
	}
}

// TestPoolSizeClassContract verifies the debug check on mismatched sizes.
func TestPoolSizeClassContract(t *testing.T) {
	pool := NewPool(NewSlab(0), 64, 8)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on size class mismatch")
		}
	}()
	_, _ = pool.Allocate(32, 8)
}

// TestPoolIsEqual verifies identity comparison.
func TestPoolIsEqual(t *testing.T) {
	up := NewSlab(0)
	a := NewPool(up, 64, 8)
	b := NewPool(up, 64, 8)

	if !a.IsEqual(a) {
		t.Error("pool must equal itself")
	}
	if a.IsEqual(b) {
		t.Error("distinct pools must not be equal")
	}
	if a.IsEqual(up) {
		t.Error("pool must not equal its upstream")
	}
}
