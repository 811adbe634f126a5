package faster

import (
	"cmp"
	"fmt"
	"io"
	"reflect"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jorjiiie/2f2f/lib/kv"
	"github.com/jorjiiie/2f2f/lib/kv/engines/faster/internal"
	"github.com/jorjiiie/2f2f/lib/kv/mem"
	"github.com/jorjiiie/2f2f/lib/kv/util"
)

var plog = logger.GetLogger("faster")

// --------------------------------------------------------------------------
// Constants and Options
// --------------------------------------------------------------------------

const (
	defaultNumBuckets         = 128
	defaultMaxWorkers         = 1024
	defaultMinorTicksPerMajor = 10_000
)

// Options configures a table during construction.
type Options struct {
	NumBuckets         int    // Number of buckets; the table never grows (>= 1)
	MaxWorkers         int    // Epoch announcement slots; registration past this fails
	MinorTicksPerMajor uint64 // Mutating operations between reclamation cycles
	Seed               uint64 // Bucket hash seed (0 = random)
}

// DefaultOptions returns the default table options.
func DefaultOptions() *Options {
	return &Options{
		NumBuckets:         defaultNumBuckets,
		MaxWorkers:         defaultMaxWorkers,
		MinorTicksPerMajor: defaultMinorTicksPerMajor,
	}
}

// --------------------------------------------------------------------------
// Core Table structure
// --------------------------------------------------------------------------

// Table is a fixed-size hash table of lock-free ordered lists with
// epoch-based reclamation. Every operation runs under a Worker obtained
// from RegisterWorker; workers carry the thread-local allocation and
// deferred-release state, the table holds only shared atomics.
type Table[K cmp.Ordered, V any] struct {
	buckets   []*internal.List[K, V]
	epochs    *internal.EpochTable
	sentinels *mem.Slab
	seed      uint64
	opts      Options

	size *xsync.Counter // approximate live entry count (striped)

	metrics     *metrics.Set
	mGets       *metrics.Counter
	mInserts    *metrics.Counter
	mOverwrites *metrics.Counter
	mUpdates    *metrics.Counter
	mErases     *metrics.Counter

	closed bool
}

// New creates a table with the specified options (optional).
//
// K and V must be free of Go pointers because nodes live in untyped pool
// memory, and V must fit the node's single atomic value word (8 bytes).
// Violations are reported as RetCContractViolation.
//
// Thread-safety: construction is not thread-safe; share the returned
// table only after New returns.
func New[K cmp.Ordered, V any](opts *Options) (*Table[K, V], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumBuckets < 1 {
		return nil, kv.NewError(kv.RetCContractViolation, "table needs at least one bucket")
	}
	if opts.MaxWorkers < 1 {
		return nil, kv.NewError(kv.RetCContractViolation, "table needs at least one worker slot")
	}
	if opts.MinorTicksPerMajor == 0 {
		return nil, kv.NewError(kv.RetCContractViolation, "tick cadence must be positive")
	}
	if internal.TypeHasPointers(reflect.TypeFor[K]()) {
		return nil, kv.NewError(kv.RetCContractViolation,
			fmt.Sprintf("key type %s contains Go pointers", reflect.TypeFor[K]()))
	}
	if internal.TypeHasPointers(reflect.TypeFor[V]()) {
		return nil, kv.NewError(kv.RetCContractViolation,
			fmt.Sprintf("value type %s contains Go pointers", reflect.TypeFor[V]()))
	}
	if !internal.WordSized[V]() {
		return nil, kv.NewError(kv.RetCContractViolation,
			fmt.Sprintf("value type %s exceeds the atomic word", reflect.TypeFor[V]()))
	}

	seed := opts.Seed
	if seed == 0 {
		seed = util.GenerateSeed()
	}

	t := &Table[K, V]{
		epochs:    internal.NewEpochTable(opts.MaxWorkers),
		sentinels: mem.NewSlab(0),
		seed:      seed,
		opts:      *opts,
		size:      xsync.NewCounter(),
		metrics:   metrics.NewSet(),
	}

	t.buckets = make([]*internal.List[K, V], opts.NumBuckets)
	for i := range t.buckets {
		l, err := internal.NewList[K, V](t.sentinels)
		if err != nil {
			return nil, kv.WrapError(kv.RetCAllocationFailure, "sentinel allocation failed", err)
		}
		t.buckets[i] = l
	}

	t.mGets = t.metrics.GetOrCreateCounter(`faster_ops_total{op="get"}`)
	t.mInserts = t.metrics.GetOrCreateCounter(`faster_ops_total{op="insert"}`)
	t.mOverwrites = t.metrics.GetOrCreateCounter(`faster_ops_total{op="overwrite"}`)
	t.mUpdates = t.metrics.GetOrCreateCounter(`faster_ops_total{op="update"}`)
	t.mErases = t.metrics.GetOrCreateCounter(`faster_ops_total{op="erase"}`)
	t.metrics.NewGauge(`faster_size`, func() float64 { return float64(t.size.Value()) })
	t.metrics.NewGauge(`faster_epoch_global`, func() float64 { return float64(t.epochs.Global()) })
	t.metrics.NewGauge(`faster_epoch_safe`, func() float64 { return float64(t.epochs.SafeEpoch()) })
	t.metrics.NewGauge(`faster_workers`, func() float64 { return float64(t.epochs.Workers()) })

	return t, nil
}

// --------------------------------------------------------------------------
// Worker Registration
// --------------------------------------------------------------------------

// RegisterWorker claims a worker slot and wires the thread-local state
// every operation needs: a node pool over the supplied upstream resource
// (nil selects a fresh mem.Slab owned by the worker), the deferred-release
// queue, and the epoch announcement slot.
//
// The returned worker must only ever be used by one goroutine at a time.
// Workers cannot deregister; their slot stays claimed for the table's
// lifetime, and a worker that stops announcing stalls reclamation for
// everyone (see Worker.Quiesce).
//
// Thread-safety: this method is thread-safe and can be called concurrently.
func (t *Table[K, V]) RegisterWorker(upstream mem.Resource) (*Worker[K, V], error) {
	idx, ok := t.epochs.Register()
	if !ok {
		plog.Warningf("worker registration rejected: %d slots exhausted", t.opts.MaxWorkers)
		return nil, kv.NewError(kv.RetCCapacityExceeded,
			fmt.Sprintf("all %d worker slots are taken", t.opts.MaxWorkers))
	}

	var owned *mem.Slab
	if upstream == nil {
		owned = mem.NewSlab(0)
		upstream = owned
	}
	pool := mem.NewPool(upstream, internal.NodeSize[K, V](), internal.NodeAlign[K, V]())

	return &Worker[K, V]{
		table: t,
		state: internal.NewWorkerState[K, V](pool, t.epochs, idx, t.opts.MinorTicksPerMajor),
		pool:  pool,
		owned: owned,
	}, nil
}

// --------------------------------------------------------------------------
// Core Operations
// --------------------------------------------------------------------------

// bucket dispatches a key to its list by seeded hash.
func (t *Table[K, V]) bucket(key K) *internal.List[K, V] {
	h := util.HashBytes(internal.KeyBytes(&key), t.seed)
	return t.buckets[h%uint64(len(t.buckets))]
}

// Get returns the value stored under key. It never mutates values, but
// like every list walk it may help excise logically deleted nodes.
//
// Thread-safety: safe for concurrent use, one worker per goroutine.
func (t *Table[K, V]) Get(w *Worker[K, V], key K) (V, bool) {
	w.enter(t)
	defer w.exit()

	t.mGets.Inc()
	word, ok := t.bucket(key).Find(w.state, key)
	if !ok {
		var zero V
		return zero, false
	}
	return internal.UnpackWord[V](word), true
}

// Put inserts key with value, or overwrites the value in place when the
// key is live. Returns true on insert, false on overwrite. An allocation
// failure surfaces as RetCAllocationFailure with nothing linked.
//
// Thread-safety: safe for concurrent use, one worker per goroutine.
func (t *Table[K, V]) Put(w *Worker[K, V], key K, value V) (bool, error) {
	w.enter(t)
	defer w.exit()
	defer w.state.MinorTick()

	inserted, err := t.bucket(key).Put(w.state, key, internal.PackWord(value))
	if err != nil {
		return false, kv.WrapError(kv.RetCAllocationFailure, "node allocation failed", err)
	}
	if inserted {
		t.size.Inc()
		t.mInserts.Inc()
	} else {
		t.mOverwrites.Inc()
	}
	return inserted, nil
}

// Update applies fn to the value under key and returns the previous
// value. The read-modify-write happens at word granularity without a CAS:
// concurrent writers on the same key can silently overwrite each other.
// Use UpdateCAS when that matters.
//
// Thread-safety: safe for concurrent use, one worker per goroutine.
func (t *Table[K, V]) Update(w *Worker[K, V], key K, fn func(V) V) (V, bool) {
	w.enter(t)
	defer w.exit()
	defer w.state.MinorTick()

	old, ok := t.bucket(key).Update(w.state, key, func(word uint64) uint64 {
		return internal.PackWord(fn(internal.UnpackWord[V](word)))
	})
	if !ok {
		var zero V
		return zero, false
	}
	t.mUpdates.Inc()
	return internal.UnpackWord[V](old), true
}

// UpdateCAS is the strict variant of Update: the stored word transitions
// atomically, retrying fn under contention.
//
// Thread-safety: safe for concurrent use, one worker per goroutine.
func (t *Table[K, V]) UpdateCAS(w *Worker[K, V], key K, fn func(V) V) (V, bool) {
	w.enter(t)
	defer w.exit()
	defer w.state.MinorTick()

	old, ok := t.bucket(key).UpdateCAS(w.state, key, func(word uint64) uint64 {
		return internal.PackWord(fn(internal.UnpackWord[V](word)))
	})
	if !ok {
		var zero V
		return zero, false
	}
	t.mUpdates.Inc()
	return internal.UnpackWord[V](old), true
}

// Erase removes key from the table. Erasing a missing key is not an
// error; it returns false.
//
// Thread-safety: safe for concurrent use, one worker per goroutine.
func (t *Table[K, V]) Erase(w *Worker[K, V], key K) bool {
	w.enter(t)
	defer w.exit()
	defer w.state.MinorTick()

	if !t.bucket(key).Erase(w.state, key) {
		return false
	}
	t.size.Dec()
	t.mErases.Inc()
	return true
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Size returns the approximate number of live entries.
func (t *Table[K, V]) Size() int64 {
	return t.size.Value()
}

// Validate checks the structural invariant of every bucket: live keys
// strictly ascending, no duplicates. Only meaningful at quiescence.
func (t *Table[K, V]) Validate() error {
	for i, l := range t.buckets {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("bucket %d: %w", i, err)
		}
	}
	return nil
}

// GetInfo returns a snapshot of table statistics. The bucket walk is only
// accurate at quiescence; everything here is diagnostic.
func (t *Table[K, V]) GetInfo() kv.TableInfo {
	sizes := make([]float64, len(t.buckets))
	for i, l := range t.buckets {
		sizes[i] = float64(l.Len())
	}

	return kv.TableInfo{
		TableType:          kv.ImplFaster,
		Buckets:            len(t.buckets),
		Size:               t.size.Value(),
		Workers:            t.epochs.Workers(),
		MaxWorkers:         t.opts.MaxWorkers,
		GlobalEpoch:        t.epochs.Global(),
		SafeEpoch:          t.epochs.SafeEpoch(),
		BucketDistribution: util.NewDistributionStats(sizes),
		SupportedFeatures: []kv.Feature{
			kv.FeatureGet, kv.FeaturePut,
			kv.FeatureUpdate, kv.FeatureUpdateCAS,
			kv.FeatureErase, kv.FeatureValidate,
		},
	}
}

// SupportsFeature checks if this implementation supports a specific feature.
func (t *Table[K, V]) SupportsFeature(feature kv.Feature) bool {
	supported := kv.FeatureGet | kv.FeaturePut |
		kv.FeatureUpdate | kv.FeatureUpdateCAS |
		kv.FeatureErase | kv.FeatureValidate
	return supported&feature == feature
}

// WritePrometheus writes the table's metrics in Prometheus text format.
func (t *Table[K, V]) WritePrometheus(w io.Writer) {
	t.metrics.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// Close tears the table down through the supplied worker: every bucket is
// walked and its nodes released into the worker's pool, the worker's
// deferred queue is drained unconditionally, and the sentinel memory goes
// back to its slab.
//
// Thread-safety: teardown is single-threaded. No other goroutine may
// touch the table once Close starts.
func (t *Table[K, V]) Close(w *Worker[K, V]) error {
	w.enter(t)
	defer w.exit()

	if t.closed {
		return nil
	}

	for _, l := range t.buckets {
		if err := l.Drain(w.state); err != nil {
			return kv.WrapError(kv.RetCInternalError, "bucket drain failed", err)
		}
	}
	w.state.Drain()
	for _, l := range t.buckets {
		if err := l.Release(); err != nil {
			return kv.WrapError(kv.RetCInternalError, "sentinel release failed", err)
		}
	}
	t.sentinels.Release()
	t.closed = true

	plog.Infof("table closed: %d buckets, %d workers registered", len(t.buckets), t.epochs.Workers())
	return nil
}
