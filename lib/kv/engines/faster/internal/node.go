package internal

import (
	"cmp"
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/jorjiiie/2f2f/lib/kv/mem"
)

// --------------------------------------------------------------------------
// Node Type (key-value entry of a lock-free list)
// --------------------------------------------------------------------------

// markBit is the low bit of a node's next pointer. A set bit means the
// node is logically deleted; any walker may physically unlink it.
const markBit = uintptr(1)

// node is one entry of a bucket list. The key is immutable once linked,
// the value is a single atomic word, and next doubles as the deletion
// mark. Nodes live in untyped pool memory, so neither K nor V may contain
// Go pointers (enforced by TypeHasPointers at table construction).
type node[K cmp.Ordered, V any] struct {
	key  K
	val  atomic.Uint64
	next atomic.Uintptr
}

// nextAndMark loads next once and splits it into pointer and mark.
func (n *node[K, V]) nextAndMark() (*node[K, V], bool) {
	raw := n.next.Load()
	return (*node[K, V])(unsafe.Pointer(raw &^ markBit)), raw&markBit != 0
}

// nextNode returns the successor with the mark stripped.
func (n *node[K, V]) nextNode() *node[K, V] {
	return (*node[K, V])(unsafe.Pointer(n.next.Load() &^ markBit))
}

// marked reports whether the node is logically deleted.
func (n *node[K, V]) marked() bool {
	return n.next.Load()&markBit != 0
}

// setNext publishes a successor on an unmarked node.
func (n *node[K, V]) setNext(nx *node[K, V]) {
	n.next.Store(uintptr(unsafe.Pointer(nx)))
}

// casNext swaps the successor expect -> nx. It fails if the node is
// marked, because the expected value carries a clear mark bit.
func (n *node[K, V]) casNext(expect, nx *node[K, V]) bool {
	return n.next.CompareAndSwap(
		uintptr(unsafe.Pointer(expect)),
		uintptr(unsafe.Pointer(nx)))
}

// casMark sets the mark bit while the successor still equals expect.
func (n *node[K, V]) casMark(expect *node[K, V]) bool {
	raw := uintptr(unsafe.Pointer(expect))
	return n.next.CompareAndSwap(raw, raw|markBit)
}

func (n *node[K, V]) loadWord() uint64 {
	return n.val.Load()
}

func (n *node[K, V]) storeWord(w uint64) {
	n.val.Store(w)
}

// --------------------------------------------------------------------------
// Node sizing and word conversion
// --------------------------------------------------------------------------

// NodeSize returns the allocation size class for a table's nodes.
func NodeSize[K cmp.Ordered, V any]() uintptr {
	return unsafe.Sizeof(node[K, V]{})
}

// NodeAlign returns the alignment for a table's nodes. It is always at
// least 8, which both satisfies the atomics and keeps the low pointer bit
// free for the deletion mark.
func NodeAlign[K cmp.Ordered, V any]() uintptr {
	a := unsafe.Alignof(node[K, V]{})
	if a < 8 {
		a = 8
	}
	return a
}

// WordSized reports whether V fits the node's single atomic value word.
func WordSized[V any]() bool {
	var v V
	return unsafe.Sizeof(v) <= 8
}

// PackWord stores a value into an atomic word. Only valid for word-sized,
// pointer-free V (checked at table construction).
func PackWord[V any](v V) uint64 {
	var w uint64
	*(*V)(unsafe.Pointer(&w)) = v
	return w
}

// UnpackWord is the inverse of PackWord.
func UnpackWord[V any](w uint64) V {
	return *(*V)(unsafe.Pointer(&w))
}

// KeyBytes exposes a key's raw representation for hashing.
func KeyBytes[K cmp.Ordered](k *K) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(k)), unsafe.Sizeof(*k))
}

// TypeHasPointers reports whether values of t embed Go pointers. Types
// with pointers cannot live in pool memory: the collector does not scan
// it, so nothing would keep the referents alive.
func TypeHasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return TypeHasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if TypeHasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		// strings, slices, maps, chans, funcs, pointers, interfaces
		return true
	}
}

// --------------------------------------------------------------------------
// Node pool (typed view over a mem.Resource)
// --------------------------------------------------------------------------

// nodePool adapts a worker's byte-level resource to node acquisition and
// release. Pool memory is recycled, so every field is (re)initialized on
// acquire before the node is published.
type nodePool[K cmp.Ordered, V any] struct {
	res mem.Resource
}

func (p nodePool[K, V]) acquire(key K, word uint64) (*node[K, V], error) {
	raw, err := p.res.Allocate(NodeSize[K, V](), NodeAlign[K, V]())
	if err != nil {
		return nil, err
	}
	n := (*node[K, V])(raw)
	n.key = key
	n.val.Store(word)
	n.next.Store(0)
	return n, nil
}

func (p nodePool[K, V]) release(n *node[K, V]) error {
	return p.res.Deallocate(unsafe.Pointer(n), NodeSize[K, V](), NodeAlign[K, V]())
}
