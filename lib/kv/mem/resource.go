package mem

import (
	"errors"
	"unsafe"
)

// --------------------------------------------------------------------------
// Resource Interface
// --------------------------------------------------------------------------

// ErrExhausted is returned by a resource that cannot satisfy a request.
// Callers surface it unchanged; no recovery is attempted internally.
var ErrExhausted = errors.New("mem: resource exhausted")

// Resource is the capability set every memory source in this module
// exposes: allocate, deallocate, identity comparison. The table engines
// only ever hold a Resource handle; concrete types are interchangeable.
//
// Deallocate must be called with the exact size and alignment of the
// original Allocate call. Resources are NOT required to be safe for
// concurrent use; each worker owns its own resource chain.
type Resource interface {
	// Allocate returns a block of exactly size bytes aligned to align.
	Allocate(size, align uintptr) (unsafe.Pointer, error)

	// Deallocate returns a block previously obtained from Allocate.
	// Some resources (Arena, Slab) reclaim memory only wholesale and
	// treat this as a no-op.
	Deallocate(p unsafe.Pointer, size, align uintptr) error

	// IsEqual reports whether other is the same resource instance.
	// Blocks may only be deallocated on a resource equal to the one
	// that allocated them.
	IsEqual(other Resource) bool
}
