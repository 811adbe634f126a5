package internal

import (
	"cmp"

	"github.com/jorjiiie/2f2f/lib/kv/mem"
)

// --------------------------------------------------------------------------
// Worker State (thread-local half of the reclamation protocol)
// --------------------------------------------------------------------------

// retiredEntry is one unlinked node awaiting a safe epoch.
type retiredEntry[K cmp.Ordered, V any] struct {
	n     *node[K, V]
	epoch uint64
}

// compactThreshold bounds how far the retired queue's drained prefix may
// grow before it is copied away.
const compactThreshold = 1024

// WorkerState is the per-thread context every table operation runs under:
// the node pool, the deferred-release queue (oldest first), the tick
// counter and the worker's registration in the epoch table. It must only
// ever be touched by one goroutine at a time.
type WorkerState[K cmp.Ordered, V any] struct {
	pool   nodePool[K, V]
	epochs *EpochTable

	retired []retiredEntry[K, V]
	rhead   int

	ticks          uint64
	minorsPerMajor uint64
	index          int

	retiredTotal   uint64
	reclaimedTotal uint64
}

// NewWorkerState wires a registered worker's thread-local state. res is
// the worker's node resource (typically a *mem.Pool with the node size
// class); index is the slot claimed in the epoch table.
func NewWorkerState[K cmp.Ordered, V any](res mem.Resource, epochs *EpochTable, index int, minorsPerMajor uint64) *WorkerState[K, V] {
	return &WorkerState[K, V]{
		pool:           nodePool[K, V]{res: res},
		epochs:         epochs,
		minorsPerMajor: minorsPerMajor,
		index:          index,
	}
}

// retire queues an unlinked node for deferred release. Epochs are
// monotonic and workers append in operation order, so the queue stays
// sorted by stamp.
func (w *WorkerState[K, V]) retire(n *node[K, V], epoch uint64) {
	w.retired = append(w.retired, retiredEntry[K, V]{n: n, epoch: epoch})
	w.retiredTotal++
}

// MinorTick is run on every mutating operation's exit path. Reaching the
// configured cadence triggers a major tick and resets the counter.
func (w *WorkerState[K, V]) MinorTick() {
	w.ticks++
	if w.ticks >= w.minorsPerMajor {
		w.MajorTick()
		w.ticks = 0
	}
}

// MajorTick announces the current global epoch for this worker, then
// releases every retired node whose stamp has fallen below the safe
// epoch.
func (w *WorkerState[K, V]) MajorTick() {
	w.epochs.Announce(w.index)
	w.drainTo(w.epochs.SafeEpoch())
}

// Announce publishes the worker's observed epoch without reclaiming.
// Read-only workers call this periodically so they never stall the safe
// epoch.
func (w *WorkerState[K, V]) Announce() {
	w.epochs.Announce(w.index)
}

// Drain releases the entire retired queue unconditionally. Only valid
// once no other worker can still observe the nodes (table teardown,
// worker shutdown after quiescence).
func (w *WorkerState[K, V]) Drain() {
	w.drainTo(^uint64(0))
}

// drainTo releases retired nodes from the oldest end while their stamp is
// below safe. If the pool cannot take a block back (link-cell exhaustion
// upstream) draining stops and the entry is retried on a later tick;
// nothing is dropped.
func (w *WorkerState[K, V]) drainTo(safe uint64) {
	for w.rhead < len(w.retired) && w.retired[w.rhead].epoch < safe {
		if err := w.pool.release(w.retired[w.rhead].n); err != nil {
			break
		}
		w.retired[w.rhead] = retiredEntry[K, V]{}
		w.rhead++
		w.reclaimedTotal++
	}

	// reclaim queue capacity once the drained prefix dominates
	if w.rhead == len(w.retired) {
		w.retired = w.retired[:0]
		w.rhead = 0
	} else if w.rhead >= compactThreshold {
		n := copy(w.retired, w.retired[w.rhead:])
		for i := n; i < len(w.retired); i++ {
			w.retired[i] = retiredEntry[K, V]{}
		}
		w.retired = w.retired[:n]
		w.rhead = 0
	}
}

// Pending returns the number of retired nodes not yet released.
func (w *WorkerState[K, V]) Pending() int {
	return len(w.retired) - w.rhead
}

// Index returns the worker's slot in the epoch table.
func (w *WorkerState[K, V]) Index() int {
	return w.index
}

// Retired returns the lifetime count of nodes this worker has queued.
func (w *WorkerState[K, V]) Retired() uint64 {
	return w.retiredTotal
}

// Reclaimed returns the lifetime count of nodes returned to the pool.
func (w *WorkerState[K, V]) Reclaimed() uint64 {
	return w.reclaimedTotal
}
