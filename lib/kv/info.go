package kv

import (
	"github.com/jorjiiie/2f2f/lib/kv/util"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplFaster Implementation = "faster"
)

// Feature represents table features as bit flags
type Feature uint64

const (
	FeatureGet       Feature = 1 << iota // Support for Get operations
	FeaturePut                           // Support for Put operations
	FeatureUpdate                        // Support for Update operations
	FeatureUpdateCAS                     // Support for the strict (CAS-loop) Update variant
	FeatureErase                         // Support for Erase operations
	FeatureValidate                      // Support for quiescent invariant checking
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeaturePut:
		return "Put"
	case FeatureUpdate:
		return "Update"
	case FeatureUpdateCAS:
		return "UpdateCAS"
	case FeatureErase:
		return "Erase"
	case FeatureValidate:
		return "Validate"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Table Info
// --------------------------------------------------------------------------

// TableInfo describes a table instance at the moment GetInfo was called.
// All values are snapshots and may be stale by the time the caller reads
// them; none of them affect correctness.
type TableInfo struct {
	TableType          Implementation         `json:"table_type"`
	Buckets            int                    `json:"buckets"`
	Size               int64                  `json:"size"`    // approximate live entry count
	Workers            int                    `json:"workers"` // registered workers
	MaxWorkers         int                    `json:"max_workers"`
	GlobalEpoch        uint64                 `json:"global_epoch"`
	SafeEpoch          uint64                 `json:"safe_epoch"`
	BucketDistribution util.DistributionStats `json:"bucket_distribution"`
	SupportedFeatures  []Feature              `json:"supported_features"`
}
