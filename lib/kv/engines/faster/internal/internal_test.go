package internal

import (
	"math/rand"
	"testing"

	"github.com/jorjiiie/2f2f/lib/kv/mem"
)

// newTestList wires a list and a registered worker over fresh resources.
func newTestList(t *testing.T) (*List[uint64, uint64], *WorkerState[uint64, uint64], *mem.Pool) {
	t.Helper()

	epochs := NewEpochTable(8)
	idx, ok := epochs.Register()
	if !ok {
		t.Fatal("worker registration failed")
	}

	pool := mem.NewPool(mem.NewSlab(0), NodeSize[uint64, uint64](), NodeAlign[uint64, uint64]())
	ws := NewWorkerState[uint64, uint64](pool, epochs, idx, 10)

	l, err := NewList[uint64, uint64](mem.NewSlab(0))
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	return l, ws, pool
}

func TestListPutFindErase(t *testing.T) {
	l, ws, _ := newTestList(t)

	inserted, err := l.Put(ws, 1, 2)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !inserted {
		t.Error("expected first put to insert")
	}

	if v, ok := l.Find(ws, 1); !ok || v != 2 {
		t.Errorf("expected (2, true), got (%d, %v)", v, ok)
	}

	if !l.Erase(ws, 1) {
		t.Error("expected erase to succeed")
	}
	if _, ok := l.Find(ws, 1); ok {
		t.Error("expected key to be gone after erase")
	}
	if l.Erase(ws, 1) {
		t.Error("expected second erase to fail")
	}
}

func TestListOverwrite(t *testing.T) {
	l, ws, _ := newTestList(t)

	if inserted, _ := l.Put(ws, 1, 2); !inserted {
		t.Error("expected insert")
	}
	if inserted, _ := l.Put(ws, 1, 5); inserted {
		t.Error("expected overwrite, not insert")
	}
	if v, _ := l.Find(ws, 1); v != 5 {
		t.Errorf("expected 5, got %d", v)
	}
	if n := l.Len(); n != 1 {
		t.Errorf("expected 1 live node, got %d", n)
	}
}

func TestListUpdate(t *testing.T) {
	l, ws, _ := newTestList(t)

	if _, ok := l.Update(ws, 7, func(w uint64) uint64 { return w + 1 }); ok {
		t.Error("update of a missing key must report absence")
	}

	_, _ = l.Put(ws, 7, 10)
	old, ok := l.Update(ws, 7, func(w uint64) uint64 { return w * w })
	if !ok || old != 10 {
		t.Errorf("expected old value 10, got (%d, %v)", old, ok)
	}
	if v, _ := l.Find(ws, 7); v != 100 {
		t.Errorf("expected 100 after update, got %d", v)
	}

	old, ok = l.UpdateCAS(ws, 7, func(w uint64) uint64 { return w + 1 })
	if !ok || old != 100 {
		t.Errorf("expected old value 100, got (%d, %v)", old, ok)
	}
	if v, _ := l.Find(ws, 7); v != 101 {
		t.Errorf("expected 101 after strict update, got %d", v)
	}
}

func TestListOrderInvariant(t *testing.T) {
	l, ws, _ := newTestList(t)

	rng := rand.New(rand.NewSource(42))
	seen := map[uint64]bool{}
	for i := 0; i < 500; i++ {
		k := uint64(rng.Intn(200))
		seen[k] = true
		if _, err := l.Put(ws, k, k); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if err := l.Validate(); err != nil {
		t.Errorf("invariant violated after inserts: %v", err)
	}
	if n := l.Len(); n != len(seen) {
		t.Errorf("expected %d live nodes, got %d", len(seen), n)
	}

	// erase half, re-check
	for k := range seen {
		if k%2 == 0 {
			if !l.Erase(ws, k) {
				t.Errorf("erase(%d) failed", k)
			}
			delete(seen, k)
		}
	}
	if err := l.Validate(); err != nil {
		t.Errorf("invariant violated after erases: %v", err)
	}
	for k := range seen {
		if v, ok := l.Find(ws, k); !ok || v != k {
			t.Errorf("expected (%d, true), got (%d, %v)", k, v, ok)
		}
	}
}

func TestListEraseRetiresNode(t *testing.T) {
	l, ws, _ := newTestList(t)

	_, _ = l.Put(ws, 1, 1)
	if !l.Erase(ws, 1) {
		t.Fatal("erase failed")
	}
	if ws.Pending() == 0 {
		t.Error("expected the erased node on the deferred-release queue")
	}
}

func TestWorkerMajorTickReclaims(t *testing.T) {
	l, ws, pool := newTestList(t)

	const n = 64
	for i := uint64(0); i < n; i++ {
		_, _ = l.Put(ws, i, i)
	}
	for i := uint64(0); i < n; i++ {
		l.Erase(ws, i)
	}
	if ws.Pending() != n {
		t.Fatalf("expected %d pending, got %d", n, ws.Pending())
	}

	// single worker: announcing lifts the safe epoch past every stamp
	ws.MajorTick()
	if ws.Pending() != 0 {
		t.Errorf("expected empty queue after major tick, got %d pending", ws.Pending())
	}
	if got := ws.Reclaimed(); got != n {
		t.Errorf("expected %d reclaimed, got %d", n, got)
	}
	if frees := pool.Stats().Frees; frees != n {
		t.Errorf("expected %d blocks back in the pool, got %d", n, frees)
	}

	// reclaimed blocks must be reused before upstream is touched again
	misses := pool.Stats().Misses
	for i := uint64(0); i < n; i++ {
		_, _ = l.Put(ws, i, i)
	}
	if got := pool.Stats().Misses; got != misses {
		t.Errorf("expected no new upstream misses, got %d extra", got-misses)
	}
}

func TestStalledWorkerBlocksReclamation(t *testing.T) {
	l, ws, _ := newTestList(t)

	// a second worker registers and never announces past zero
	idx, ok := ws.epochs.Register()
	if !ok {
		t.Fatal("second registration failed")
	}

	_, _ = l.Put(ws, 1, 1)
	l.Erase(ws, 1)

	ws.MajorTick()
	if ws.Pending() != 1 {
		t.Errorf("expected the entry to stay pending under a stalled worker, got %d", ws.Pending())
	}

	// the stalled worker quiesces; the next tick reclaims
	ws.epochs.Announce(idx)
	ws.MajorTick()
	if ws.Pending() != 0 {
		t.Errorf("expected reclamation after quiescence, got %d pending", ws.Pending())
	}
}

func TestWorkerMinorTickCadence(t *testing.T) {
	l, ws, _ := newTestList(t)

	_, _ = l.Put(ws, 1, 1)
	l.Erase(ws, 1)

	// cadence is 10 in the test fixture; nine ticks must not reclaim
	for i := 0; i < 9; i++ {
		ws.MinorTick()
	}
	if ws.Pending() != 1 {
		t.Fatalf("premature reclamation after %d minor ticks", 9)
	}
	ws.MinorTick()
	if ws.Pending() != 0 {
		t.Error("expected the tenth minor tick to trigger a major tick")
	}
}

func TestListDrain(t *testing.T) {
	l, ws, pool := newTestList(t)

	for i := uint64(0); i < 32; i++ {
		_, _ = l.Put(ws, i, i)
	}
	if err := l.Drain(ws); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n := l.Len(); n != 0 {
		t.Errorf("expected empty list after drain, got %d nodes", n)
	}
	if frees := pool.Stats().Frees; frees != 32 {
		t.Errorf("expected 32 freed blocks, got %d", frees)
	}
	if err := l.Release(); err != nil {
		t.Errorf("release sentinels: %v", err)
	}
}

func TestEpochTableSafeEpoch(t *testing.T) {
	e := NewEpochTable(4)

	i0, _ := e.Register()
	i1, _ := e.Register()

	// both announced at zero
	if safe := e.SafeEpoch(); safe != 0 {
		t.Errorf("expected safe epoch 0, got %d", safe)
	}

	for i := 0; i < 5; i++ {
		e.Stamp()
	}
	e.Announce(i0)
	if safe := e.SafeEpoch(); safe != 0 {
		t.Errorf("one stale worker must pin the safe epoch at 0, got %d", safe)
	}

	e.Announce(i1)
	if safe := e.SafeEpoch(); safe != 5 {
		t.Errorf("expected safe epoch 5 after both announce, got %d", safe)
	}
}

func TestEpochTableCapacity(t *testing.T) {
	e := NewEpochTable(2)

	if _, ok := e.Register(); !ok {
		t.Fatal("first registration failed")
	}
	if _, ok := e.Register(); !ok {
		t.Fatal("second registration failed")
	}
	if _, ok := e.Register(); ok {
		t.Error("expected registration past capacity to fail")
	}
	if e.Workers() != 2 {
		t.Errorf("expected 2 workers, got %d", e.Workers())
	}
}

func TestPackWordRoundTrip(t *testing.T) {
	if got := UnpackWord[int64](PackWord(int64(-42))); got != -42 {
		t.Errorf("int64 round trip: got %d", got)
	}
	if got := UnpackWord[float64](PackWord(3.5)); got != 3.5 {
		t.Errorf("float64 round trip: got %v", got)
	}
	type pair struct {
		A uint32
		B uint16
	}
	if got := UnpackWord[pair](PackWord(pair{7, 9})); got != (pair{7, 9}) {
		t.Errorf("struct round trip: got %+v", got)
	}
}
