// Package mem provides the memory resources the table engines allocate
// from. It is a small composition kit in the polymorphic-allocator style:
// every resource exposes the same capability set (Allocate, Deallocate,
// IsEqual) through the Resource interface, and resources layer over one
// another.
//
// The package contains:
//   - Resource: the interface every memory source satisfies
//   - Pool: a single-size-class LIFO freelist over an upstream resource;
//     this is what each table worker allocates nodes from
//   - Arena: a monotonic bump allocator over a caller-supplied buffer,
//     useful for bounded tests and embedded deployments
//   - Slab: the default upstream; carves large backing buffers acquired
//     from bytebufferpool and returns them wholesale on Release
//
// None of the resources are safe for concurrent use. The engines give
// every worker its own resource chain, so no synchronization is needed on
// the allocation path at all.
package mem
