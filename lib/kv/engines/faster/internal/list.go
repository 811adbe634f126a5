package internal

import (
	"cmp"
	"fmt"
	"unsafe"

	"github.com/jorjiiie/2f2f/lib/kv/mem"
)

// --------------------------------------------------------------------------
// Lock-Free Ordered List (one bucket of the table)
// --------------------------------------------------------------------------

// List is a Harris-Michael ordered linked list between two fixed
// sentinels. Live nodes are sorted strictly ascending by key; a set mark
// bit on a node's next pointer is a logical deletion, and any walker that
// passes over a run of marked nodes excises it with a single CAS and
// hands the chain to the calling worker for epoch-deferred release.
//
// All operations take the calling worker's state: allocation, retirement
// and epoch stamping are thread-local, the list itself holds only the
// atomically linked nodes.
type List[K cmp.Ordered, V any] struct {
	head, tail *node[K, V]
	res        mem.Resource // sentinel memory, owned by the table
}

// NewList allocates the two sentinels from res and links them.
func NewList[K cmp.Ordered, V any](res mem.Resource) (*List[K, V], error) {
	hraw, err := res.Allocate(NodeSize[K, V](), NodeAlign[K, V]())
	if err != nil {
		return nil, err
	}
	traw, err := res.Allocate(NodeSize[K, V](), NodeAlign[K, V]())
	if err != nil {
		return nil, err
	}

	l := &List[K, V]{
		head: (*node[K, V])(hraw),
		tail: (*node[K, V])(traw),
		res:  res,
	}
	l.tail.next.Store(0)
	l.head.setNext(l.tail)
	return l, nil
}

// search returns (left, right) such that left is unmarked, right is the
// first node with key >= the target (or tail), and left.next == right at
// the moment of the final check. Runs of marked nodes found between the
// two are excised with one CAS and retired under a fresh epoch stamp.
func (l *List[K, V]) search(ws *WorkerState[K, V], key K) (left, right *node[K, V]) {
	for {
		t := l.head
		tNext, tMarked := t.nextAndMark()
		var leftNext *node[K, V]

		// walk: remember the last unmarked node before the target
		// position, skip over marked ones
		for {
			if !tMarked {
				left = t
				leftNext = tNext
			}
			t = tNext
			if t == l.tail {
				break
			}
			tNext, tMarked = t.nextAndMark()
			if !tMarked && t.key >= key {
				break
			}
		}
		right = t

		// adjacent: nothing to excise
		if leftNext == right {
			if right != l.tail && right.marked() {
				continue
			}
			return left, right
		}

		// unlink the whole run of marked nodes in one CAS
		if !left.casNext(leftNext, right) {
			continue
		}

		// the chain is now unreachable for new readers; retire it before
		// deciding whether to restart
		stamp := ws.epochs.Stamp()
		for leftNext != right {
			nx := leftNext.nextNode()
			ws.retire(leftNext, stamp)
			leftNext = nx
		}

		if right != l.tail && right.marked() {
			continue
		}
		return left, right
	}
}

// Find returns the value word stored under key.
func (l *List[K, V]) Find(ws *WorkerState[K, V], key K) (uint64, bool) {
	_, right := l.search(ws, key)
	if right != l.tail && right.key == key {
		return right.loadWord(), true
	}
	return 0, false
}

// Put inserts key with the given value word, or overwrites the value in
// place if the key is live. Returns true on insert, false on overwrite.
// An allocation failure surfaces before anything is linked.
func (l *List[K, V]) Put(ws *WorkerState[K, V], key K, word uint64) (bool, error) {
	n, err := ws.pool.acquire(key, word)
	if err != nil {
		return false, err
	}

	for {
		left, right := l.search(ws, key)
		if right != l.tail && right.key == key {
			right.storeWord(word)
			// n was never published; hand it straight back. If the pool
			// cannot take it the block is dropped, not corrupted.
			_ = ws.pool.release(n)
			return false, nil
		}
		n.setNext(right)
		if left.casNext(right, n) {
			return true, nil
		}
	}
}

// Update applies fn to the value under key and returns the previous
// value word. This is a plain load/compute/store at word granularity: it
// is NOT linearizable against concurrent writers on the same key, and a
// racing Put or Update can be overwritten silently. Use UpdateCAS when
// that matters.
func (l *List[K, V]) Update(ws *WorkerState[K, V], key K, fn func(uint64) uint64) (uint64, bool) {
	_, right := l.search(ws, key)
	if right == l.tail || right.key != key {
		return 0, false
	}
	old := right.loadWord()
	right.storeWord(fn(old))
	return old, true
}

// UpdateCAS is the strict variant of Update: fn is retried in a CAS loop
// until the stored word transitions atomically.
func (l *List[K, V]) UpdateCAS(ws *WorkerState[K, V], key K, fn func(uint64) uint64) (uint64, bool) {
	_, right := l.search(ws, key)
	if right == l.tail || right.key != key {
		return 0, false
	}
	for {
		old := right.loadWord()
		if right.val.CompareAndSwap(old, fn(old)) {
			return old, true
		}
	}
}

// Erase logically deletes key (mark), then attempts the physical unlink.
// If the unlink CAS loses, one extra search lets a concurrent walker's
// sweep finish; the logical deletion already took effect, so the erase
// still reports true.
func (l *List[K, V]) Erase(ws *WorkerState[K, V], key K) bool {
	for {
		left, right := l.search(ws, key)
		if right == l.tail || right.key != key {
			return false
		}

		rightNext, marked := right.nextAndMark()
		if marked {
			// someone else is deleting this node; start over
			continue
		}
		if !right.casMark(rightNext) {
			continue
		}

		if left.casNext(right, rightNext) {
			ws.retire(right, ws.epochs.Stamp())
		} else {
			l.search(ws, key)
		}
		return true
	}
}

// Drain unlinks and releases every real node into the worker's pool.
// Teardown only: no concurrent access may remain.
func (l *List[K, V]) Drain(ws *WorkerState[K, V]) error {
	n := l.head.nextNode()
	for n != l.tail {
		nx := n.nextNode()
		if err := ws.pool.release(n); err != nil {
			return err
		}
		n = nx
	}
	l.head.setNext(l.tail)
	return nil
}

// Release returns the sentinels to the resource they were allocated
// from. The list is unusable afterwards.
func (l *List[K, V]) Release() error {
	if err := l.res.Deallocate(unsafe.Pointer(l.head), NodeSize[K, V](), NodeAlign[K, V]()); err != nil {
		return err
	}
	if err := l.res.Deallocate(unsafe.Pointer(l.tail), NodeSize[K, V](), NodeAlign[K, V]()); err != nil {
		return err
	}
	l.head, l.tail = nil, nil
	return nil
}

// Len counts live (unmarked) nodes. Quiescence only; diagnostic.
func (l *List[K, V]) Len() int {
	count := 0
	for n := l.head.nextNode(); n != l.tail; n = n.nextNode() {
		if !n.marked() {
			count++
		}
	}
	return count
}

// Validate checks the structural invariant at quiescence: live keys
// strictly ascending between the sentinels, hence no duplicates.
func (l *List[K, V]) Validate() error {
	var prev K
	have := false
	for n := l.head.nextNode(); n != l.tail; n = n.nextNode() {
		if n.marked() {
			continue
		}
		if have && prev >= n.key {
			return fmt.Errorf("list order violated: %v before %v", prev, n.key)
		}
		prev = n.key
		have = true
	}
	return nil
}
