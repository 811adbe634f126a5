package testing

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/jorjiiie/2f2f/lib/kv"
	"github.com/jorjiiie/2f2f/lib/kv/engines/faster"
	"github.com/jorjiiie/2f2f/lib/kv/mem"
)

// TableFactory creates a fresh uint64/uint64 table for one test.
type TableFactory func(opts *faster.Options) (*faster.Table[uint64, uint64], error)

// RunTableTests runs the standardized test suite against a table
// implementation: single-thread semantics, structural invariants,
// reclamation behavior, and multi-thread stress.
func RunTableTests(t *testing.T, name string, factory TableFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory)
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory)
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory)
		})

		t.Run("Erase", func(t *testing.T) {
			testErase(t, factory)
		})

		t.Run("Idempotence", func(t *testing.T) {
			testIdempotence(t, factory)
		})

		t.Run("RoundTrip", func(t *testing.T) {
			testRoundTrip(t, factory)
		})

		t.Run("Integration", func(t *testing.T) {
			testIntegration(t, factory)
		})

		t.Run("AllocationFailure", func(t *testing.T) {
			testAllocationFailure(t, factory)
		})

		t.Run("WorkerCapacity", func(t *testing.T) {
			testWorkerCapacity(t, factory)
		})

		t.Run("TickReclamation", func(t *testing.T) {
			testTickReclamation(t, factory)
		})

		t.Run("InsertStress", func(t *testing.T) {
			testInsertStress(t, factory)
		})

		t.Run("HighDensityStress", func(t *testing.T) {
			testHighDensityStress(t, factory)
		})

		t.Run("MixedStress", func(t *testing.T) {
			testMixedStress(t, factory)
		})

		t.Run("ReclamationStress", func(t *testing.T) {
			testReclamationStress(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// newTable creates a table or fails the test.
func newTable(t testing.TB, factory TableFactory, opts *faster.Options) *faster.Table[uint64, uint64] {
	t.Helper()
	table, err := factory(opts)
	if err != nil {
		t.Fatalf("table construction failed: %v", err)
	}
	return table
}

// newWorker registers a worker or fails the test.
func newWorker(t testing.TB, table *faster.Table[uint64, uint64], upstream mem.Resource) *faster.Worker[uint64, uint64] {
	t.Helper()
	w, err := table.RegisterWorker(upstream)
	if err != nil {
		t.Fatalf("worker registration failed: %v", err)
	}
	return w
}

// --------------------------------------------------------------------------
// Single-thread semantics
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	inserted, err := table.Put(w, 1, 2)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !inserted {
		t.Error("expected first put to insert")
	}

	if v, ok := table.Get(w, 1); !ok || v != 2 {
		t.Errorf("expected (2, true), got (%d, %v)", v, ok)
	}
	if _, ok := table.Get(w, 99); ok {
		t.Error("expected miss for absent key")
	}
}

func testOverwrite(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	if inserted, _ := table.Put(w, 1, 2); !inserted {
		t.Error("expected insert")
	}
	if inserted, _ := table.Put(w, 1, 5); inserted {
		t.Error("expected overwrite")
	}
	if v, _ := table.Get(w, 1); v != 5 {
		t.Errorf("expected 5 after overwrite, got %d", v)
	}
	if table.Size() != 1 {
		t.Errorf("expected size 1, got %d", table.Size())
	}
}

func testUpdate(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	if _, ok := table.Update(w, 3, func(v uint64) uint64 { return v + 1 }); ok {
		t.Error("update of a missing key must report absence")
	}

	_, _ = table.Put(w, 3, 4)
	old, ok := table.Update(w, 3, func(v uint64) uint64 { return v * 10 })
	if !ok || old != 4 {
		t.Errorf("expected previous value 4, got (%d, %v)", old, ok)
	}
	if v, _ := table.Get(w, 3); v != 40 {
		t.Errorf("expected 40 after update, got %d", v)
	}

	old, ok = table.UpdateCAS(w, 3, func(v uint64) uint64 { return v + 2 })
	if !ok || old != 40 {
		t.Errorf("expected previous value 40, got (%d, %v)", old, ok)
	}
	if v, _ := table.Get(w, 3); v != 42 {
		t.Errorf("expected 42 after strict update, got %d", v)
	}
}

func testErase(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	if table.Erase(w, 1) {
		t.Error("erase of an absent key must return false")
	}

	_, _ = table.Put(w, 1, 2)
	if !table.Erase(w, 1) {
		t.Error("erase of a live key must return true")
	}
	if _, ok := table.Get(w, 1); ok {
		t.Error("expected miss after erase")
	}
	if table.Size() != 0 {
		t.Errorf("expected size 0, got %d", table.Size())
	}
}

func testIdempotence(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	_, _ = table.Put(w, 7, 8)
	_, _ = table.Put(w, 7, 8)

	if v, ok := table.Get(w, 7); !ok || v != 8 {
		t.Errorf("expected (8, true), got (%d, %v)", v, ok)
	}
	if table.Size() != 1 {
		t.Errorf("expected size 1 after double put, got %d", table.Size())
	}
	if err := table.Validate(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

func testRoundTrip(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	const n = 1000
	for i := uint64(0); i < n; i++ {
		if _, err := table.Put(w, i, i*3); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	// read back in a different order
	for i := int64(n - 1); i >= 0; i-- {
		k := uint64(i)
		if v, ok := table.Get(w, k); !ok || v != k*3 {
			t.Errorf("expected (%d, true), got (%d, %v)", k*3, v, ok)
		}
	}
	if err := table.Validate(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

// testIntegration walks the full lifecycle over a 128-bucket table.
func testIntegration(t *testing.T, factory TableFactory) {
	opts := faster.DefaultOptions()
	opts.NumBuckets = 128
	table := newTable(t, factory, opts)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	for i := uint64(0); i < 100; i++ {
		if _, err := table.Put(w, i, i); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := uint64(0); i < 100; i++ {
		if v, ok := table.Get(w, i); !ok || v != i {
			t.Errorf("expected (%d, true), got (%d, %v)", i, v, ok)
		}
	}

	for i := uint64(0); i < 100; i++ {
		old, ok := table.Update(w, i, func(v uint64) uint64 { return v * v })
		if !ok || old != i {
			t.Errorf("expected previous value %d, got (%d, %v)", i, old, ok)
		}
	}
	for i := uint64(0); i < 100; i++ {
		if v, ok := table.Get(w, i); !ok || v != i*i {
			t.Errorf("expected (%d, true), got (%d, %v)", i*i, v, ok)
		}
	}

	for i := uint64(0); i < 100; i++ {
		if !table.Erase(w, i) {
			t.Errorf("erase(%d) failed", i)
		}
	}
	for i := uint64(0); i < 100; i++ {
		if _, ok := table.Get(w, i); ok {
			t.Errorf("expected miss for erased key %d", i)
		}
	}
}

// --------------------------------------------------------------------------
// Failure semantics
// --------------------------------------------------------------------------

func testAllocationFailure(t *testing.T, factory TableFactory) {
	table := newTable(t, factory, nil)

	// a worker whose pool sits on a ~4-node arena
	arena := mem.NewArena(make([]byte, 100))
	w := newWorker(t, table, arena)

	var inserted uint64
	var failed error
	for i := uint64(0); i < 16; i++ {
		if _, err := table.Put(w, i, i); err != nil {
			failed = err
			break
		}
		inserted++
	}

	if failed == nil {
		t.Fatal("expected an allocation failure on a bounded arena")
	}
	var kerr *kv.Error
	if !errors.As(failed, &kerr) || kerr.Code != kv.RetCAllocationFailure {
		t.Errorf("expected RetCAllocationFailure, got %v", failed)
	}
	if !errors.Is(failed, mem.ErrExhausted) {
		t.Errorf("expected the upstream failure to surface, got %v", failed)
	}

	// nothing was linked by the failed put
	if table.Size() != int64(inserted) {
		t.Errorf("expected size %d after failed put, got %d", inserted, table.Size())
	}
	for i := uint64(0); i < inserted; i++ {
		if v, ok := table.Get(w, i); !ok || v != i {
			t.Errorf("existing key %d damaged by failed put: (%d, %v)", i, v, ok)
		}
	}
}

func testWorkerCapacity(t *testing.T, factory TableFactory) {
	opts := faster.DefaultOptions()
	opts.MaxWorkers = 2
	table := newTable(t, factory, opts)

	w := newWorker(t, table, nil)
	defer table.Close(w)
	_ = newWorker(t, table, nil)

	_, err := table.RegisterWorker(nil)
	if err == nil {
		t.Fatal("expected registration past MaxWorkers to fail")
	}
	var kerr *kv.Error
	if !errors.As(err, &kerr) || kerr.Code != kv.RetCCapacityExceeded {
		t.Errorf("expected RetCCapacityExceeded, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Reclamation
// --------------------------------------------------------------------------

// testTickReclamation verifies the minor/major tick cadence drains every
// entry stamped below the announced epoch.
func testTickReclamation(t *testing.T, factory TableFactory) {
	opts := faster.DefaultOptions()
	opts.MinorTicksPerMajor = 16
	table := newTable(t, factory, opts)
	w := newWorker(t, table, nil)
	defer table.Close(w)

	for i := uint64(0); i < 8; i++ {
		_, _ = table.Put(w, i, i)
	}
	for i := uint64(0); i < 8; i++ {
		table.Erase(w, i)
	}
	if got := w.Retired(); got != 8 {
		t.Fatalf("expected 8 retired nodes, got %d", got)
	}

	// 16 mutating ops have passed; this is the only worker, so the major
	// tick fired on the last erase and drained everything below its own
	// announcement
	if w.Pending() != 0 {
		t.Errorf("expected an empty deferred queue after a major tick, got %d", w.Pending())
	}
	if got := w.Reclaimed(); got != 8 {
		t.Errorf("expected 8 reclaimed nodes, got %d", got)
	}
}

// --------------------------------------------------------------------------
// Stress
// --------------------------------------------------------------------------

// testInsertStress runs 5 writers with random (k, v) pairs and replays
// each writer's RNG afterwards. Lost pairs can only come from another
// writer overwriting the same key, which is rare at this density.
func testInsertStress(t *testing.T, factory TableFactory) {
	const (
		threads  = 5
		perT     = 1000
		keySpace = 10_000_000
	)

	table := newTable(t, factory, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	workers := make([]*faster.Worker[uint64, uint64], threads)
	for i := range workers {
		workers[i] = newWorker(t, table, nil)
	}

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			rng := rand.New(rand.NewSource(int64(id)))
			w := workers[id]
			for j := 0; j < perT; j++ {
				k := uint64(rng.Int63n(keySpace))
				v := uint64(rng.Int63n(keySpace))
				if _, err := table.Put(w, k, v); err != nil {
					t.Errorf("writer %d: put failed: %v", id, err)
					return
				}
			}
		}(i)
	}
	close(start)
	wg.Wait()

	reader := newWorker(t, table, nil)
	defer table.Close(reader)
	for id := 0; id < threads; id++ {
		rng := rand.New(rand.NewSource(int64(id)))
		found := 0
		for j := 0; j < perT; j++ {
			k := uint64(rng.Int63n(keySpace))
			v := uint64(rng.Int63n(keySpace))
			if got, ok := table.Get(reader, k); ok && got == v {
				found++
			}
		}
		if recall := float64(found) / perT; recall < 0.90 {
			t.Errorf("writer %d: recall %.4f below 0.90", id, recall)
		}
	}

	if err := table.Validate(); err != nil {
		t.Errorf("invariant violated after stress: %v", err)
	}
}

// testHighDensityStress scales the key space so collisions are negligible
// and stores v == k, making the replay insensitive to overwrites.
func testHighDensityStress(t *testing.T, factory TableFactory) {
	threads := 5
	perT := 10_000
	if testing.Short() {
		perT = 2000
	}
	keySpace := int64(threads*perT) * 1000

	table := newTable(t, factory, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	workers := make([]*faster.Worker[uint64, uint64], threads)
	for i := range workers {
		workers[i] = newWorker(t, table, nil)
	}

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			rng := rand.New(rand.NewSource(int64(100 + id)))
			w := workers[id]
			for j := 0; j < perT; j++ {
				k := uint64(rng.Int63n(keySpace))
				if _, err := table.Put(w, k, k); err != nil {
					t.Errorf("writer %d: put failed: %v", id, err)
					return
				}
			}
		}(i)
	}
	close(start)
	wg.Wait()

	reader := newWorker(t, table, nil)
	defer table.Close(reader)
	for id := 0; id < threads; id++ {
		rng := rand.New(rand.NewSource(int64(100 + id)))
		found := 0
		for j := 0; j < perT; j++ {
			k := uint64(rng.Int63n(keySpace))
			if got, ok := table.Get(reader, k); ok && got == k {
				found++
			}
		}
		if recall := float64(found) / float64(perT); recall < 0.999 {
			t.Errorf("writer %d: recall %.5f below 0.999", id, recall)
		}
	}
}

// testMixedStress mixes erases (p = 0.05, keys lagging behind the
// insert stream) into the high-density workload, then cross-checks the
// observed table against a per-thread replay of the operation sequence.
func testMixedStress(t *testing.T, factory TableFactory) {
	threads := 5
	perT := 10_000
	if testing.Short() {
		perT = 2000
	}
	keySpace := int64(threads*perT) * 1000

	table := newTable(t, factory, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	workers := make([]*faster.Worker[uint64, uint64], threads)
	for i := range workers {
		workers[i] = newWorker(t, table, nil)
	}

	// run replays thread id's deterministic op stream: erase with p = 0.05
	// against a lagging copy of the thread's own insert keys, put otherwise.
	run := func(id int, apply func(op byte, k uint64)) {
		keyRNG := rand.New(rand.NewSource(int64(200 + id)))
		opRNG := rand.New(rand.NewSource(int64(300 + id)))
		lagRNG := rand.New(rand.NewSource(int64(200 + id))) // lags keyRNG
		lag := 0
		for j := 0; j < perT; j++ {
			if lag > 0 && opRNG.Float64() < 0.05 {
				apply('e', uint64(lagRNG.Int63n(keySpace)))
				lag--
			} else {
				apply('p', uint64(keyRNG.Int63n(keySpace)))
				lag++
			}
		}
	}

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			w := workers[id]
			run(id, func(op byte, k uint64) {
				if op == 'p' {
					if _, err := table.Put(w, k, k); err != nil {
						t.Errorf("writer %d: put failed: %v", id, err)
					}
				} else {
					table.Erase(w, k)
				}
			})
		}(i)
	}
	close(start)
	wg.Wait()

	reader := newWorker(t, table, nil)
	defer table.Close(reader)

	totalOps, totalLive, totalFound := 0, 0, 0
	for id := 0; id < threads; id++ {
		// replay the thread's op sequence into its expected final state
		expected := map[uint64]bool{}
		run(id, func(op byte, k uint64) {
			if op == 'p' {
				expected[k] = true
			} else {
				delete(expected, k)
			}
			totalOps++
		})

		for k := range expected {
			totalLive++
			if got, ok := table.Get(reader, k); ok && got == k {
				totalFound++
			}
		}
	}

	if frac := float64(totalFound) / float64(totalLive); frac < 0.99 {
		t.Errorf("only %.4f of expected-live keys observed", frac)
	}

	// the 5 percent erase rate must show up in the live fraction
	if live := float64(totalLive) / float64(totalOps); live < 0.85 || live > 0.98 {
		t.Errorf("live fraction %.4f outside the expected deletion band", live)
	}
}

// testReclamationStress runs a reader against a writer flapping the same
// key, then verifies the deferred queue fully drains once everyone has
// announced past the last enqueue.
func testReclamationStress(t *testing.T, factory TableFactory) {
	iters := 1_000_000
	if testing.Short() {
		iters = 100_000
	}

	opts := faster.DefaultOptions()
	opts.MinorTicksPerMajor = 64
	table := newTable(t, factory, opts)

	writer := newWorker(t, table, nil)
	readerW := newWorker(t, table, nil)

	const k = uint64(12345)
	var wg sync.WaitGroup
	start := make(chan struct{})
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if v, ok := table.Get(readerW, k); ok && v >= uint64(iters) {
				t.Errorf("torn or impossible value %d", v)
				return
			}
			if i%1024 == 0 {
				readerW.Quiesce()
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		<-start
		for i := 0; i < iters; i++ {
			if _, err := table.Put(writer, k, uint64(i)); err != nil {
				t.Errorf("put: %v", err)
				return
			}
			if !table.Erase(writer, k) {
				t.Errorf("erase %d failed", i)
				return
			}
		}
	}()

	close(start)
	wg.Wait()

	// everyone announces past the last enqueue, then the writer reclaims
	readerW.Quiesce()
	writer.MajorTick()
	if w := writer.Pending(); w != 0 {
		t.Errorf("expected a drained deferred queue, %d entries remain", w)
	}
	if _, ok := table.Get(writer, k); ok {
		t.Error("expected the key to be gone after the final erase")
	}

	if err := table.Close(writer); err != nil {
		t.Errorf("close: %v", err)
	}
}
