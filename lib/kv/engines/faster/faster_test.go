package faster_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jorjiiie/2f2f/lib/kv"
	"github.com/jorjiiie/2f2f/lib/kv/engines/faster"
	kvtesting "github.com/jorjiiie/2f2f/lib/kv/testing"
)

func Test(t *testing.T) {
	kvtesting.RunTableTests(t, "faster", func(opts *faster.Options) (*faster.Table[uint64, uint64], error) {
		return faster.New[uint64, uint64](opts)
	})
}

func Benchmark(b *testing.B) {
	kvtesting.RunTableBenchmarks(b, "faster", func(opts *faster.Options) (*faster.Table[uint64, uint64], error) {
		return faster.New[uint64, uint64](opts)
	})
}

// --------------------------------------------------------------------------
// Construction contracts
// --------------------------------------------------------------------------

func expectContractViolation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a construction error")
	}
	var kerr *kv.Error
	if !errors.As(err, &kerr) || kerr.Code != kv.RetCContractViolation {
		t.Errorf("expected RetCContractViolation, got %v", err)
	}
}

func TestNewRejectsPointeredValue(t *testing.T) {
	_, err := faster.New[uint64, string](nil)
	expectContractViolation(t, err)
}

func TestNewRejectsPointeredKey(t *testing.T) {
	_, err := faster.New[string, uint64](nil)
	expectContractViolation(t, err)
}

func TestNewRejectsOversizedValue(t *testing.T) {
	_, err := faster.New[uint64, [4]uint64](nil)
	expectContractViolation(t, err)
}

func TestNewRejectsZeroBuckets(t *testing.T) {
	opts := faster.DefaultOptions()
	opts.NumBuckets = 0
	_, err := faster.New[uint64, uint64](opts)
	expectContractViolation(t, err)
}

// --------------------------------------------------------------------------
// Generic instantiation
// --------------------------------------------------------------------------

func TestSignedKeysFloatValues(t *testing.T) {
	table, err := faster.New[int32, float64](nil)
	if err != nil {
		t.Fatalf("construction: %v", err)
	}
	w, err := table.RegisterWorker(nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer table.Close(w)

	for i := int32(-50); i < 50; i++ {
		if _, err := table.Put(w, i, float64(i)/2); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := int32(-50); i < 50; i++ {
		if v, ok := table.Get(w, i); !ok || v != float64(i)/2 {
			t.Errorf("expected (%v, true), got (%v, %v)", float64(i)/2, v, ok)
		}
	}
	if err := table.Validate(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

func TestGetInfo(t *testing.T) {
	opts := faster.DefaultOptions()
	opts.NumBuckets = 16
	table, err := faster.New[uint64, uint64](opts)
	if err != nil {
		t.Fatalf("construction: %v", err)
	}
	w, _ := table.RegisterWorker(nil)
	defer table.Close(w)

	for i := uint64(0); i < 256; i++ {
		_, _ = table.Put(w, i, i)
	}

	info := table.GetInfo()
	if info.TableType != kv.ImplFaster {
		t.Errorf("expected table type %q, got %q", kv.ImplFaster, info.TableType)
	}
	if info.Buckets != 16 {
		t.Errorf("expected 16 buckets, got %d", info.Buckets)
	}
	if info.Size != 256 {
		t.Errorf("expected size 256, got %d", info.Size)
	}
	if info.Workers != 1 {
		t.Errorf("expected 1 worker, got %d", info.Workers)
	}
	if info.BucketDistribution.Mean != 16 {
		t.Errorf("expected mean chain length 16, got %v", info.BucketDistribution.Mean)
	}
	if !table.SupportsFeature(kv.FeatureGet | kv.FeaturePut | kv.FeatureErase) {
		t.Error("core features must be supported")
	}
}

func TestWritePrometheus(t *testing.T) {
	table, err := faster.New[uint64, uint64](nil)
	if err != nil {
		t.Fatalf("construction: %v", err)
	}
	w, _ := table.RegisterWorker(nil)
	defer table.Close(w)

	_, _ = table.Put(w, 1, 1)
	_, _ = table.Get(w, 1)
	table.Erase(w, 1)

	var buf bytes.Buffer
	table.WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`faster_ops_total{op="get"} 1`,
		`faster_ops_total{op="insert"} 1`,
		`faster_ops_total{op="erase"} 1`,
		`faster_size 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestWorkerWrongTablePanics(t *testing.T) {
	a, _ := faster.New[uint64, uint64](nil)
	b, _ := faster.New[uint64, uint64](nil)
	w, _ := a.RegisterWorker(nil)

	defer func() {
		if recover() == nil {
			t.Error("expected panic when a worker crosses tables")
		}
	}()
	b.Get(w, 1)
}
