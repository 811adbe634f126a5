package bench

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jorjiiie/2f2f/cmd/util"
	"github.com/jorjiiie/2f2f/lib/kv/engines/faster"
)

var (
	// BenchCmd represents the bench command group
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark an in-process table",
		Long:    "Runs throughput and latency benchmarks against an in-process 2f2f table.",
		RunE:    run,
		PreRunE: processBenchConfig,
	}

	benchNumThreads  = 10
	benchKeySpread   = 100_000
	benchNumBuckets  = 1024
	benchTicks       = uint64(10_000)
	benchSkip        = make([]string, 0)
	benchShowMetrics = false
)

func init() {
	// add flags
	key := "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "keys"
	BenchCmd.Flags().Int(key, 100_000, util.WrapString("How many different keys to use for the benchmark"))
	key = "buckets"
	BenchCmd.Flags().Int(key, 1024, util.WrapString("Number of table buckets"))
	key = "ticks"
	BenchCmd.Flags().Uint64(key, 10_000, util.WrapString("Mutating operations between reclamation cycles"))
	key = "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "metrics"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Dump the table's Prometheus metrics after the run"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchNumThreads = viper.GetInt("threads")
	benchKeySpread = viper.GetInt("keys")
	benchNumBuckets = viper.GetInt("buckets")
	benchTicks = viper.GetUint64("ticks")
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	benchShowMetrics = viper.GetBool("metrics")

	return nil
}

func shouldSkip(name string) bool {
	return slices.Contains(benchSkip, name)
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Benchmark tool for 2f2f tables")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Keys:    %d\n", benchKeySpread)
	fmt.Printf("Buckets: %d\n", benchNumBuckets)
	fmt.Printf("Ticks:   %d\n", benchTicks)
	fmt.Println()

	opts := faster.DefaultOptions()
	opts.NumBuckets = benchNumBuckets
	opts.MinorTicksPerMajor = benchTicks
	// testing.Benchmark reruns each closure while sizing b.N, and every
	// rerun registers fresh workers on the shared table
	opts.MaxWorkers = 1 << 16

	table, err := faster.New[uint64, uint64](opts)
	if err != nil {
		return err
	}

	fmt.Println("starting throughput benchmarks...")

	putResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("put") {
			return
		}

		b.SetParallelism(benchNumThreads)
		var seq atomic.Uint64

		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			w, err := table.RegisterWorker(nil)
			if err != nil {
				log.Printf("(put) - worker registration failed: %v\n", err)
				return
			}
			k := seq.Add(1) << 40
			for pb.Next() {
				k++
				if _, err := table.Put(w, k%uint64(benchKeySpread), k); err != nil {
					log.Printf("(put) - error putting key: %v\n", err)
				}
			}
		})
	})
	printResult("put", putResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			w, err := table.RegisterWorker(nil)
			if err != nil {
				log.Printf("(get) - worker registration failed: %v\n", err)
				return
			}
			k := uint64(0)
			for pb.Next() {
				k++
				table.Get(w, k%uint64(benchKeySpread))
			}
		})
	})
	printResult("get", getResult)

	eraseResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("erase") {
			return
		}

		b.SetParallelism(benchNumThreads)
		var seq atomic.Uint64

		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			w, err := table.RegisterWorker(nil)
			if err != nil {
				log.Printf("(erase) - worker registration failed: %v\n", err)
				return
			}
			k := seq.Add(1) << 40
			for pb.Next() {
				k++
				if _, err := table.Put(w, k, k); err != nil {
					log.Printf("(erase) - error putting key: %v\n", err)
				}
				table.Erase(w, k)
			}
		})
	})
	printResult("erase", eraseResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		b.SetParallelism(benchNumThreads)
		var seq atomic.Uint64

		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			w, err := table.RegisterWorker(nil)
			if err != nil {
				log.Printf("(mixed) - worker registration failed: %v\n", err)
				return
			}
			rng := rand.New(rand.NewSource(int64(seq.Add(1))))
			for pb.Next() {
				k := uint64(rng.Int63n(int64(benchKeySpread)))
				switch rng.Intn(20) {
				case 0:
					table.Erase(w, k)
				case 1, 2, 3, 4:
					if _, err := table.Put(w, k, k); err != nil {
						log.Printf("(mixed) - error putting key: %v\n", err)
					}
				default:
					table.Get(w, k)
				}
			}
		})
	})
	printResult("mixed", mixedResult)

	if err := latencyPass(table); err != nil {
		return err
	}

	if benchShowMetrics {
		fmt.Println()
		fmt.Println("table metrics:")
		table.WritePrometheus(os.Stdout)
	}

	return nil
}

// latencyPass samples single-threaded operation latencies into histograms
// and prints the usual percentiles.
func latencyPass(table *faster.Table[uint64, uint64]) error {
	if shouldSkip("latency") {
		return nil
	}

	fmt.Println()
	fmt.Println("starting latency pass (single worker)...")

	w, err := table.RegisterWorker(nil)
	if err != nil {
		return err
	}

	registry := gometrics.NewRegistry()
	sample := func() gometrics.Sample { return gometrics.NewExpDecaySample(1028, 0.015) }
	putHist := gometrics.GetOrRegisterHistogram("latency.put", registry, sample())
	getHist := gometrics.GetOrRegisterHistogram("latency.get", registry, sample())
	eraseHist := gometrics.GetOrRegisterHistogram("latency.erase", registry, sample())

	samples := benchKeySpread
	if samples > 1_000_000 {
		samples = 1_000_000
	}

	for i := 0; i < samples; i++ {
		k := uint64(i)

		start := time.Now()
		if _, err := table.Put(w, k, k); err != nil {
			return err
		}
		putHist.Update(time.Since(start).Nanoseconds())

		start = time.Now()
		table.Get(w, k)
		getHist.Update(time.Since(start).Nanoseconds())

		start = time.Now()
		table.Erase(w, k)
		eraseHist.Update(time.Since(start).Nanoseconds())
	}

	printHistogram("put", putHist)
	printHistogram("get", getHist)
	printHistogram("erase", eraseHist)

	return nil
}

func printResult(name string, result testing.BenchmarkResult) {
	if shouldSkip(name) || result.N == 0 {
		fmt.Printf("%-8s skipped\n", name)
		return
	}
	fmt.Printf("%-8s %12d ops %14s\n", name, result.N, result.String())
}

func printHistogram(name string, h gometrics.Histogram) {
	ps := h.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-8s mean %8.0fns  p50 %8.0fns  p95 %8.0fns  p99 %8.0fns\n",
		name, h.Mean(), ps[0], ps[1], ps[2])
}
