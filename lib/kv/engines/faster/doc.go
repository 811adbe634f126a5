// Package faster implements a concurrent in-memory key-value table in the
// FASTER style: a fixed array of buckets, each a lock-free ordered linked
// list, with epoch-based reclamation tying together per-worker freelists
// and thread-local pool allocation.
//
// Architecture:
//
//   - Buckets: a key hashes (seeded xxhash over its raw bytes) to one of
//     NumBuckets Harris-Michael lists. The table never grows; callers
//     concerned with load factor pick NumBuckets at construction.
//
//   - Nodes: each entry is an immutable key, one atomic value word and an
//     atomic next pointer whose low bit is the logical-deletion mark.
//     Erasure marks first, then any walker may complete the physical
//     unlink; searches excise whole runs of marked nodes with one CAS.
//
//   - Workers: every goroutine registers once and threads its *Worker
//     through each call. The worker owns a single-size-class node pool
//     (lib/kv/mem) and the deferred-release queue, so the allocation path
//     takes no locks and shares nothing.
//
//   - Epochs: retired nodes carry a stamp from the table's global epoch
//     counter. Each worker periodically announces the epoch it has
//     observed (every MinorTicksPerMajor mutating operations, or
//     explicitly via Quiesce); nodes stamped below the minimum announced
//     epoch can no longer be reached by any walker and return to their
//     pool.
//
// Progress guarantees are lock-free, not wait-free: operations retry on
// CAS contention but some operation always completes. Put, Erase and Get
// are linearizable per bucket; Update is a documented exception (plain
// load/compute/store) with UpdateCAS as the strict opt-in.
//
// Known limitation: workers cannot deregister. A worker that stops
// announcing (and never calls Quiesce) pins the safe epoch, and deferred
// memory accumulates until it resumes.
package faster
