package slab

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/check"
)

// Allocator hands out fixed-size, fixed-alignment elements from slabs.
//
// Slabs with free slots sit on the non-full list and exhausted ones on the
// full list, so Allocate never searches. Free recovers the owning slab by
// masking the pointer to its 4KB block and looking the block up in the
// address index.
//
// An Allocator is not safe for concurrent use.
type Allocator struct {
	layout     Layout
	mapper     Mapper
	log        *slog.Logger
	checkFrees bool

	// index maps every block address spanned by a live slab to that slab.
	index   map[uintptr]*Slab
	nonFull slabList
	full    slabList

	live   int
	stats  counters
	closed bool
}

// New creates an allocator for elements of elemSize bytes aligned to
// elemAlign. No memory is mapped until the first Allocate.
func New(elemSize, elemAlign uintptr, opts ...Option) (*Allocator, error) {
	o := buildOptions(opts)

	layout, err := NewLayout(elemSize, elemAlign, o.blocksPerSlab)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		layout:     layout,
		mapper:     o.mapper,
		log:        o.logger,
		checkFrees: o.checkFrees,
		index:      make(map[uintptr]*Slab),
	}
	a.log.Debug("slab allocator created", "layout", layout.String())
	return a, nil
}

// Layout returns the slab layout derived for this allocator.
func (a *Allocator) Layout() Layout { return a.layout }

// Allocate returns storage for one element. The contents are unspecified.
//
// The only error is ErrOutOfMemory, returned with a nil pointer when a new
// slab was needed and the OS refused to map it. The allocator is unchanged in
// that case.
func (a *Allocator) Allocate() (unsafe.Pointer, error) {
	check.That(!a.closed, "slab: Allocate on closed allocator")
	a.stats.allocCalls++

	if a.nonFull.Empty() {
		s, err := newSlab(&a.layout, a.mapper)
		if err != nil {
			a.stats.failedAllocs++
			a.log.Warn("slab mapping failed", "size", a.layout.MapSize, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
		}
		a.nonFull.PushFront(s)
		a.insertIndexEntries(s)
		a.stats.slabsMapped++
		a.log.Debug("slab mapped",
			"addr", fmt.Sprintf("%#x", s.Begin()),
			"size", a.layout.MapSize,
			"capacity", s.Capacity(),
			"slabs", a.slabCount())
	}

	s := a.nonFull.Front()
	p := s.Allocate()
	check.That(p != nil, "slab %#x: Allocate returned nil", s.Begin())

	if s.IsFull() {
		a.nonFull.Erase(s)
		a.full.PushFront(s)
	}

	a.live++
	return p, nil
}

// Free returns p to the allocator. p must have been returned by Allocate on
// this allocator and not freed since; anything else panics with a *Violation
// and leaves the allocator untouched.
//
// A slab left empty is unmapped unless it is the only slab with free slots.
// Keeping that one avoids mapping and unmapping a slab on every call when a
// caller alternates between allocating and freeing a single element.
func (a *Allocator) Free(p unsafe.Pointer) {
	check.That(!a.closed, "slab: Free on closed allocator")

	s := a.findSlab(p)
	if a.checkFrees {
		check.That(!s.onFreeList(p), "slab %#x: double free of %p", s.Begin(), p)
	}

	// The slab checks p before anything is moved, so a rejected free
	// leaves the lists untouched.
	wasFull := s.IsFull()
	s.Free(p)
	a.live--
	a.stats.freeCalls++

	if wasFull {
		a.full.Erase(s)
		a.nonFull.PushFront(s)
	}

	if !s.IsEmpty() {
		return
	}
	if a.nonFull.Size() > 1 {
		a.eraseIndexEntries(s)
		a.nonFull.Erase(s)
		a.destroy(s)
		return
	}
	a.stats.emptyRetained++
	a.log.Debug("empty slab retained", "addr", fmt.Sprintf("%#x", s.Begin()))
}

// Owns reports whether p lies in a block of a live slab. Unlike Free it never
// panics.
func (a *Allocator) Owns(p unsafe.Pointer) bool {
	_, ok := a.index[blockOf(p)]
	return ok
}

// Close unmaps every slab, live elements included. Pointers returned by
// Allocate are invalid afterwards and the allocator must not be used again.
func (a *Allocator) Close() {
	if a.closed {
		return
	}
	n := a.slabCount()
	a.destroyAll(&a.nonFull)
	a.destroyAll(&a.full)
	clear(a.index)
	a.closed = true
	a.log.Debug("slab allocator closed", "slabs", n)
}

// Stats returns a snapshot of the allocator's state.
func (a *Allocator) Stats() Stats {
	slabs := a.slabCount()
	return Stats{
		Live:          a.live,
		Capacity:      slabs * a.layout.Capacity,
		Slabs:         slabs,
		NonFullSlabs:  a.nonFull.Size(),
		FullSlabs:     a.full.Size(),
		IndexEntries:  len(a.index),
		BytesMapped:   int64(slabs) * int64(a.layout.MapSize),
		AllocCalls:    a.stats.allocCalls,
		FreeCalls:     a.stats.freeCalls,
		FailedAllocs:  a.stats.failedAllocs,
		SlabsMapped:   a.stats.slabsMapped,
		SlabsUnmapped: a.stats.slabsUnmapped,
		EmptyRetained: a.stats.emptyRetained,
	}
}

func (a *Allocator) slabCount() int {
	return a.nonFull.Size() + a.full.Size()
}

func blockOf(p unsafe.Pointer) uintptr {
	return uintptr(p) &^ (BlockSize - 1)
}

func (a *Allocator) findSlab(p unsafe.Pointer) *Slab {
	s, ok := a.index[blockOf(p)]
	check.That(ok && s != nil, "slab: free of %p, which this allocator did not allocate", p)
	return s
}

func (a *Allocator) insertIndexEntries(s *Slab) {
	for b := s.Begin(); b < s.End(); b += BlockSize {
		a.index[b] = s
	}
}

func (a *Allocator) eraseIndexEntries(s *Slab) {
	for b := s.Begin(); b < s.End(); b += BlockSize {
		delete(a.index, b)
	}
}

func (a *Allocator) destroy(s *Slab) {
	addr := s.Begin()
	a.live -= s.Live()
	deleteSlab(s, a.mapper)
	a.stats.slabsUnmapped++
	a.log.Debug("slab unmapped", "addr", fmt.Sprintf("%#x", addr), "slabs", a.slabCount())
}

func (a *Allocator) destroyAll(l *slabList) {
	for !l.Empty() {
		s := l.Front()
		l.PopFront()
		a.destroy(s)
	}
}
