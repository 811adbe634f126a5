package faster

import (
	"cmp"
	"sync/atomic"

	"github.com/jorjiiie/2f2f/lib/kv/engines/faster/internal"
	"github.com/jorjiiie/2f2f/lib/kv/mem"
)

// --------------------------------------------------------------------------
// Worker (thread-local operation context)
// --------------------------------------------------------------------------

// Worker is the context a goroutine threads through every table
// operation. It owns a node pool, the deferred-release queue and an epoch
// announcement slot. A worker must be used by at most one goroutine at a
// time; the engine debug-checks this on every operation.
type Worker[K cmp.Ordered, V any] struct {
	table *Table[K, V]
	state *internal.WorkerState[K, V]
	pool  *mem.Pool
	owned *mem.Slab // upstream created on the worker's behalf, nil otherwise

	inUse  atomic.Bool
	closed bool
}

// enter flags the worker as busy and verifies it belongs to the table it
// is used on. Both violations are caller bugs, not runtime errors.
func (w *Worker[K, V]) enter(t *Table[K, V]) {
	if w.table != t {
		panic("faster: worker used on a table it was not registered with")
	}
	if w.closed {
		panic("faster: worker used after Close")
	}
	if !w.inUse.CompareAndSwap(false, true) {
		panic("faster: worker state used from multiple goroutines")
	}
}

func (w *Worker[K, V]) exit() {
	w.inUse.Store(false)
}

// Quiesce announces the worker's observed epoch without reclaiming.
// Workers that only read for long stretches must call this periodically,
// otherwise their stale announcement pins the safe epoch and stalls
// reclamation table-wide.
func (w *Worker[K, V]) Quiesce() {
	w.enter(w.table)
	defer w.exit()
	w.state.Announce()
}

// MajorTick forces an announce-and-reclaim cycle immediately instead of
// waiting for the minor-tick cadence.
func (w *Worker[K, V]) MajorTick() {
	w.enter(w.table)
	defer w.exit()
	w.state.MajorTick()
}

// Index returns the worker's slot in the table's epoch state.
func (w *Worker[K, V]) Index() int {
	return w.state.Index()
}

// Pending returns how many retired nodes await a safe epoch.
func (w *Worker[K, V]) Pending() int {
	return w.state.Pending()
}

// Retired returns the lifetime count of nodes this worker has queued for
// deferred release.
func (w *Worker[K, V]) Retired() uint64 {
	return w.state.Retired()
}

// Reclaimed returns the lifetime count of nodes returned to the pool.
func (w *Worker[K, V]) Reclaimed() uint64 {
	return w.state.Reclaimed()
}

// PoolStats returns a snapshot of the worker's pool counters.
func (w *Worker[K, V]) PoolStats() mem.PoolStats {
	return w.pool.Stats()
}

// Close drains the worker's deferred queue unconditionally and releases
// any upstream resource the worker owns. Only valid during shutdown, once
// no other worker can still observe the queued nodes. An owned upstream
// also backs every node this worker allocated, including nodes still
// linked in the table; releasing it frees that memory as well. The epoch
// slot stays claimed; workers cannot deregister.
func (w *Worker[K, V]) Close() error {
	if w.closed {
		return nil
	}
	w.enter(w.table)
	defer w.exit()

	w.state.Drain()
	if w.owned != nil {
		w.owned.Release()
		w.owned = nil
	}
	w.closed = true
	return nil
}
