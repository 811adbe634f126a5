package mem

import (
	"unsafe"

	"github.com/valyala/bytebufferpool"
)

// --------------------------------------------------------------------------
// Slab Resource (default upstream, backed by bytebufferpool)
// --------------------------------------------------------------------------

// DefaultSlabSize is the backing buffer size a Slab acquires when it runs
// out of space in the current buffer.
const DefaultSlabSize = 64 << 10

// Slab is the default upstream resource. It acquires large backing buffers
// from bytebufferpool and carves them monotonically. Individual blocks are
// never reclaimed (Deallocate is a no-op); Release returns every backing
// buffer to the pool at once.
//
// Thread-safety: a Slab must not be shared between goroutines.
type Slab struct {
	slabSize int
	bufs     []*bytebufferpool.ByteBuffer
	cur      []byte
	off      uintptr
	released bool
}

// NewSlab creates a slab resource. slabSize <= 0 selects DefaultSlabSize.
func NewSlab(slabSize int) *Slab {
	if slabSize <= 0 {
		slabSize = DefaultSlabSize
	}
	return &Slab{slabSize: slabSize}
}

// Allocate returns a block of size bytes aligned to align, carving it from
// the current backing buffer and acquiring a new one when needed.
func (s *Slab) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 || align == 0 || align&(align-1) != 0 {
		panic("mem: Slab.Allocate called with invalid size or alignment")
	}
	if s.released {
		return nil, ErrExhausted
	}

	off, ok := s.fit(size, align)
	if !ok {
		s.grow(int(size + align))
		off, _ = s.fit(size, align)
	}

	p := unsafe.Pointer(&s.cur[off])
	s.off = off + size
	return p, nil
}

// fit aligns the current offset and reports whether size bytes still fit
// in the current backing buffer.
func (s *Slab) fit(size, align uintptr) (uintptr, bool) {
	if s.cur == nil {
		return 0, false
	}
	off := s.off
	base := uintptr(unsafe.Pointer(&s.cur[0]))
	if rem := (base + off) & (align - 1); rem != 0 {
		off += align - rem
	}
	return off, off+size <= uintptr(len(s.cur))
}

// grow acquires a fresh backing buffer of at least need bytes.
func (s *Slab) grow(need int) {
	n := s.slabSize
	if need > n {
		n = need
	}
	bb := bytebufferpool.Get()
	if cap(bb.B) < n {
		bb.B = make([]byte, n)
	} else {
		bb.B = bb.B[:n]
	}
	s.bufs = append(s.bufs, bb)
	s.cur = bb.B
	s.off = 0
}

// Deallocate is a no-op; slab memory is reclaimed wholesale by Release.
func (s *Slab) Deallocate(_ unsafe.Pointer, _, _ uintptr) error {
	return nil
}

// IsEqual implements identity comparison.
func (s *Slab) IsEqual(other Resource) bool {
	o, ok := other.(*Slab)
	return ok && o == s
}

// Release returns every backing buffer to bytebufferpool. The caller must
// guarantee that no pointer into the slab is still live; afterwards the
// slab refuses further allocations.
func (s *Slab) Release() {
	for _, bb := range s.bufs {
		bytebufferpool.Put(bb)
	}
	s.bufs = nil
	s.cur = nil
	s.off = 0
	s.released = true
}
