// Package util provides utility components for the key-value table engines
// in this module.
//
// The package contains:
//   - functions: Seeded hash functions (xxhash) and seed generation
//   - statistics: Tools for analyzing how entries distribute across buckets
//   - logger: The logging facade used throughout the module, implemented
//     on top of dragonboat's logger interface
//
// This package is particularly useful for:
//   - Engine implementations that need seeded, deterministic key hashing
//   - Monitoring systems that track bucket distribution quality
//   - Consistent log formatting across library and CLI
package util
