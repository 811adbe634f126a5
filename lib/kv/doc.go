// Package kv provides the shared public surface for the key-value table
// engines in this module: error codes, feature flags and metadata types.
//
// The package focuses on:
//   - A uniform error type (Error/RetCode) returned by all engines
//   - Feature discovery through capability flags
//   - Standardized metadata reporting via TableInfo
//
// Key Components:
//
//   - Error / RetCode: The error design shared by every operation in the
//     module. Operations that cannot fail (Get, Update, Erase on a
//     well-formed table) do not return errors at all; operations that can
//     (Put, RegisterWorker, table construction) return a *kv.Error whose
//     Code identifies the failure class (allocation failure, capacity
//     exceeded, contract violation).
//
//   - Feature Flags: The Feature type defines capability flags that engines
//     advertise through their GetInfo method. This allows callers to
//     discover supported operations at runtime.
//
//   - Table Information: The TableInfo structure provides standardized
//     reporting on table state: approximate size, bucket-chain
//     distribution, epoch progress and registered worker counts. All of
//     it is diagnostic; none of it affects correctness.
//
// Related Packages:
//
// The engines/faster package (github.com/jorjiiie/2f2f/lib/kv/engines/faster)
// implements a concurrent in-memory hash table in the FASTER style: a fixed
// bucket array of lock-free ordered lists with epoch-based memory
// reclamation and thread-local pool allocation.
//
// The mem package (github.com/jorjiiie/2f2f/lib/kv/mem) provides the memory
// resources the engines allocate from: a fixed-size-class pool with a LIFO
// freelist, a monotonic arena, and a slab resource backed by
// bytebufferpool.
//
// The testing package (github.com/jorjiiie/2f2f/lib/kv/testing) provides a
// standardized test suite for table engines.
package kv
