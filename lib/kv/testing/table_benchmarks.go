package testing

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/jorjiiie/2f2f/lib/kv/engines/faster"
)

// RunTableBenchmarks runs all benchmarks for a table implementation.
func RunTableBenchmarks(b *testing.B, name string, factory TableFactory) {
	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory)
	})

	b.Run("PutExisting", func(b *testing.B) {
		benchmarkPutExisting(b, factory)
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory)
	})

	b.Run("Get(miss)", func(b *testing.B) {
		benchmarkGetMiss(b, factory)
	})

	b.Run("Update", func(b *testing.B) {
		benchmarkUpdate(b, factory)
	})

	b.Run("Erase", func(b *testing.B) {
		benchmarkErase(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// benchTable builds the benchmark fixture or aborts.
func benchTable(b *testing.B, factory TableFactory, opts *faster.Options) *faster.Table[uint64, uint64] {
	b.Helper()
	table, err := factory(opts)
	if err != nil {
		b.Fatalf("table construction failed: %v", err)
	}
	return table
}

// benchWorker registers one worker per parallel goroutine.
func benchWorker(b *testing.B, table *faster.Table[uint64, uint64]) *faster.Worker[uint64, uint64] {
	b.Helper()
	w, err := table.RegisterWorker(nil)
	if err != nil {
		b.Fatalf("worker registration failed: %v", err)
	}
	return w
}

func benchmarkPut(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	var seq atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		base := seq.Add(1) << 32
		k := base
		for pb.Next() {
			k++
			_, _ = table.Put(w, k, k)
		}
	})
}

func benchmarkPutExisting(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	setup := benchWorker(b, table)
	const keys = 1 << 14
	for i := uint64(0); i < keys; i++ {
		_, _ = table.Put(setup, i, i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		k := uint64(0)
		for pb.Next() {
			k = (k + 1) & (keys - 1)
			_, _ = table.Put(w, k, k)
		}
	})
}

func benchmarkGet(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	setup := benchWorker(b, table)
	const keys = 1 << 14
	for i := uint64(0); i < keys; i++ {
		_, _ = table.Put(setup, i, i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		k := uint64(0)
		for pb.Next() {
			k = (k + 1) & (keys - 1)
			_, _ = table.Get(w, k)
		}
	})
}

func benchmarkGetMiss(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		k := uint64(0)
		for pb.Next() {
			k++
			_, _ = table.Get(w, k)
		}
	})
}

func benchmarkUpdate(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	setup := benchWorker(b, table)
	const keys = 1 << 14
	for i := uint64(0); i < keys; i++ {
		_, _ = table.Put(setup, i, i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		k := uint64(0)
		for pb.Next() {
			k = (k + 1) & (keys - 1)
			_, _ = table.Update(w, k, func(v uint64) uint64 { return v + 1 })
		}
	})
}

func benchmarkErase(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	var seq atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		base := seq.Add(1) << 32
		k := base
		for pb.Next() {
			k++
			_, _ = table.Put(w, k, k)
			table.Erase(w, k)
		}
	})
}

func benchmarkMixedUsage(b *testing.B, factory TableFactory) {
	table := benchTable(b, factory, nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		w := benchWorker(b, table)
		rng := rand.New(rand.NewSource(int64(b.N)))
		for pb.Next() {
			k := uint64(rng.Int63n(1 << 16))
			switch rng.Intn(10) {
			case 0:
				table.Erase(w, k)
			case 1, 2, 3:
				_, _ = table.Put(w, k, k)
			default:
				_, _ = table.Get(w, k)
			}
		}
	})
}
