package slab

import (
	"unsafe"

	"github.com/joshuapare/slabkit/internal/check"
	"github.com/joshuapare/slabkit/internal/ilist"
	"github.com/joshuapare/slabkit/internal/sysmem"
)

// slot is the free-list view of a slot. While a slot is live its bytes belong
// to the caller and this view must not be read.
//
// The link is an address, not a pointer: a free overwrites caller bytes, and a
// typed pointer store would hand those bytes to the GC write barrier.
type slot struct {
	next uintptr
}

// Slab is a fixed-capacity block of slots. The header lives at the start of
// its own mapping and the slots follow at Layout.SlotOffset.
//
// A Slab is only created by an Allocator and is never copied.
type Slab struct {
	node ilist.Node

	free     uintptr // address of the first free slot, 0 when full
	live     int
	capacity int

	slotOffset uintptr
	slotSize   uintptr
	footprint  uintptr

	mem []byte // the whole mapping, header included
}

type slabTraits struct{}

func (slabTraits) NodeOffset() uintptr { return unsafe.Offsetof(Slab{}.node) }

type slabList = ilist.List[Slab, slabTraits]

// newSlab maps a region for one slab and constructs the slab at its start
// with every slot on the free list in index order. A mapping failure is
// returned as is and leaves nothing mapped.
func newSlab(l *Layout, m sysmem.Mapper) (*Slab, error) {
	mem, err := m.Map(l.MapSize)
	if err != nil {
		return nil, err
	}
	check.That(len(mem) >= int(l.Footprint), "slab: mapping of %d bytes cannot hold %d-byte slab", len(mem), l.Footprint)
	check.That(sysmem.Addr(mem)%BlockSize == 0, "slab: mapping at %#x is not %d-byte aligned", sysmem.Addr(mem), BlockSize)

	s := (*Slab)(unsafe.Pointer(unsafe.SliceData(mem)))
	*s = Slab{
		capacity:   l.Capacity,
		slotOffset: l.SlotOffset,
		slotSize:   l.SlotSize,
		footprint:  l.Footprint,
		mem:        mem,
	}

	for i := 0; i+1 < s.capacity; i++ {
		s.slotAt(i).next = s.slotAddr(i + 1)
	}
	s.slotAt(s.capacity - 1).next = 0
	s.free = s.slotAddr(0)

	return s, nil
}

// deleteSlab tears down s and releases its mapping. s must not be used
// afterwards.
func deleteSlab(s *Slab, m sysmem.Mapper) {
	mem := s.mem
	*s = Slab{}
	if err := m.Unmap(mem); err != nil {
		check.Fail("slab: release of mapping at %#x: %v", sysmem.Addr(mem), err)
	}
}

func (s *Slab) slotAt(i int) *slot {
	return (*slot)(unsafe.Add(unsafe.Pointer(s), s.slotOffset+uintptr(i)*s.slotSize))
}

func (s *Slab) slotAddr(i int) uintptr {
	return s.Begin() + s.slotOffset + uintptr(i)*s.slotSize
}

// slotFor converts a slot address of s back into a pointer. addr must have
// passed slotIndex.
func (s *Slab) slotFor(addr uintptr) *slot {
	return (*slot)(unsafe.Add(unsafe.Pointer(s), addr-s.Begin()))
}

// slotIndex returns the index of the slot starting at addr, or -1 if addr is
// not the start of a slot in s.
func (s *Slab) slotIndex(addr uintptr) int {
	first := s.Begin() + s.slotOffset
	if addr < first || addr >= s.End() {
		return -1
	}
	off := addr - first
	if off%s.slotSize != 0 {
		return -1
	}
	return int(off / s.slotSize)
}

// Allocate takes the head of the free list. The slab must not be full.
func (s *Slab) Allocate() unsafe.Pointer {
	head := s.free
	check.That(head != 0, "slab %#x: free list empty with %d/%d live", s.Begin(), s.live, s.capacity)
	check.That(s.slotIndex(head) >= 0, "slab %#x: free list head %#x outside slot array", s.Begin(), head)

	sl := s.slotFor(head)
	s.free = sl.next
	s.live++
	return unsafe.Pointer(sl)
}

// Free pushes the slot at p onto the head of the free list. p must be a live
// slot returned by Allocate on this slab.
func (s *Slab) Free(p unsafe.Pointer) {
	check.That(s.slotIndex(uintptr(p)) >= 0, "slab %#x: %p is not a slot of this slab", s.Begin(), p)
	check.That(s.live > 0, "slab %#x: free of %p with no live slots", s.Begin(), p)

	sl := (*slot)(p)
	sl.next = s.free
	s.free = uintptr(p)
	s.live--
}

// onFreeList reports whether the slot at p is currently free. It walks the
// free list, stopping at the first entry outside the slot array.
func (s *Slab) onFreeList(p unsafe.Pointer) bool {
	for addr, n := s.free, 0; addr != 0 && n < s.capacity; n++ {
		if addr == uintptr(p) {
			return true
		}
		if s.slotIndex(addr) < 0 {
			return false
		}
		addr = s.slotFor(addr).next
	}
	return false
}

// IsFull reports whether every slot is live.
func (s *Slab) IsFull() bool { return s.live == s.capacity }

// IsEmpty reports whether no slot is live.
func (s *Slab) IsEmpty() bool { return s.live == 0 }

// Live returns the number of live slots.
func (s *Slab) Live() int { return s.live }

// Capacity returns the number of slots.
func (s *Slab) Capacity() int { return s.capacity }

// Begin returns the first address of the slab.
func (s *Slab) Begin() uintptr { return uintptr(unsafe.Pointer(s)) }

// End returns the address just past the last slot.
func (s *Slab) End() uintptr { return s.Begin() + s.footprint }
