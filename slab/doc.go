// Package slab provides a slab allocator for elements of one fixed size and
// alignment, backed by memory mapped directly from the OS.
//
// # Overview
//
// An Allocator carves page-aligned slabs into equally sized slots. Each slab
// keeps a LIFO free list threaded through its unused slots, so allocation and
// deallocation are O(1) and need no memory outside the slab. Slabs are kept
// on one of two intrusive lists:
//
//   - non-full: slabs with at least one free slot; Allocate uses the front one
//   - full: slabs with no free slot
//
// A hash index maps every 4KB block a slab spans to that slab. Free masks the
// pointer down to its block and finds the owning slab in O(1).
//
// # Usage Example
//
//	a, err := slab.New(48, 8)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	p, err := a.Allocate()
//	if err != nil {
//	    return err // slab.ErrOutOfMemory
//	}
//	// Write up to 48 bytes at p...
//	a.Free(p)
//
// Typed usage:
//
//	type node struct {
//	    key, val uint64
//	    next     uint32
//	}
//
//	pool, err := slab.NewPool[node]()
//	n, err := pool.Get()
//	pool.Put(n)
//
// # Slab Layout
//
// A slab is one or more 4KB blocks (WithBlocksPerSlab) laid out as:
//
//	+--------+---------+--------+--------+-----+--------+-------+
//	| header | padding | slot 0 | slot 1 | ... | slot N | waste |
//	+--------+---------+--------+--------+-----+--------+-------+
//	0        SlotOffset                          Footprint  Budget
//
// A slot is the element size widened to hold a free-list link and rounded up
// to the element alignment. Capacity is
//
//	(BlocksPerSlab*4096 - SlotOffset) / SlotSize
//
// and configurations where not one slot fits are rejected by New.
//
// # Slab Lifetime
//
// Slabs are mapped when Allocate finds the non-full list empty and unmapped
// when Free empties them, except when the emptied slab is the only non-full
// slab. That one is kept so that alternating Allocate/Free of a single
// element does not map and unmap a slab every time. Close unmaps everything.
//
// # Errors and Invariant Violations
//
// Allocate fails only with ErrOutOfMemory. Misuse that implies memory
// corruption (freeing a pointer the allocator never returned, double frees
// caught by WithFreeListCheck, a corrupted free list) panics with a
// *Violation instead of returning an error.
//
// A pointer is dead once it is passed to Free or its allocator is closed.
// Callers must not keep it, even unused: its slab may already be unmapped.
//
// # Thread Safety
//
// Allocators are not thread-safe. Use one allocator per goroutine or
// synchronize externally.
//
// # Garbage Collection
//
// Slab memory is invisible to the garbage collector. Elements must not hold
// the only reference to Go heap objects.
package slab
