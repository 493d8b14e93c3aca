package slab

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/slabkit/internal/check"
	"github.com/joshuapare/slabkit/internal/sysmem"
)

// BlockSize is the granularity of the address index. Every slab starts on a
// block boundary, and every block a slab spans has an index entry.
const BlockSize = sysmem.BlockSize

const (
	// maxAlign is the largest supported element alignment. Slabs are only
	// guaranteed to start on a block boundary.
	maxAlign = BlockSize

	// maxBlocksPerSlab bounds a single slab at 256MB.
	maxBlocksPerSlab = 1 << 16

	slotLinkSize  = unsafe.Sizeof(slot{})
	slotLinkAlign = unsafe.Alignof(slot{})
	headerSize    = unsafe.Sizeof(Slab{})
)

// Layout describes how elements of one size and alignment are packed into a
// slab. It is derived once per allocator.
type Layout struct {
	ElemSize  uintptr // requested element size
	ElemAlign uintptr // requested element alignment

	// SlotSize is the stride between slots: the element size widened to hold a
	// free-list link and rounded up to SlotAlign.
	SlotSize  uintptr
	SlotAlign uintptr

	HeaderSize uintptr // size of the slab header
	SlotOffset uintptr // offset of slot 0; the fixed per-slab overhead

	BlocksPerSlab int
	Capacity      int     // slots per slab
	Footprint     uintptr // header, padding and all slots
	MapSize       int     // Footprint rounded up to the OS page size
}

// NewLayout derives the slab layout for elements of elemSize bytes aligned to
// elemAlign, in slabs of blocksPerSlab blocks.
//
// Capacity is computed directly from the slot stride:
//
//	Capacity = (blocksPerSlab*BlockSize - SlotOffset) / SlotSize
//
// Configurations with Capacity < 1 are rejected.
func NewLayout(elemSize, elemAlign uintptr, blocksPerSlab int) (Layout, error) {
	if elemSize == 0 {
		return Layout{}, fmt.Errorf("%w: element size must be positive", ErrInvalidLayout)
	}
	if elemAlign == 0 || elemAlign&(elemAlign-1) != 0 {
		return Layout{}, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidLayout, elemAlign)
	}
	if elemAlign > maxAlign {
		return Layout{}, fmt.Errorf("%w: alignment %d exceeds %d", ErrInvalidLayout, elemAlign, maxAlign)
	}
	if blocksPerSlab < 1 || blocksPerSlab > maxBlocksPerSlab {
		return Layout{}, fmt.Errorf("%w: blocks per slab %d out of range [1, %d]", ErrInvalidLayout, blocksPerSlab, maxBlocksPerSlab)
	}

	budget := uintptr(blocksPerSlab) * BlockSize
	if elemSize > budget {
		return Layout{}, fmt.Errorf("%w: %d-byte element exceeds %d-byte slab; increase blocks per slab",
			ErrElementTooLarge, elemSize, budget)
	}

	l := Layout{
		ElemSize:      elemSize,
		ElemAlign:     elemAlign,
		SlotAlign:     max(elemAlign, slotLinkAlign),
		HeaderSize:    headerSize,
		BlocksPerSlab: blocksPerSlab,
	}
	l.SlotSize = sysmem.RoundUp(max(elemSize, slotLinkSize), l.SlotAlign)
	l.SlotOffset = sysmem.RoundUp(headerSize, l.SlotAlign)

	if l.SlotOffset > budget || l.SlotSize > budget-l.SlotOffset {
		return Layout{}, fmt.Errorf("%w: %d-byte slot plus %d bytes of overhead exceeds %d-byte slab; increase blocks per slab",
			ErrElementTooLarge, l.SlotSize, l.SlotOffset, budget)
	}

	l.Capacity = int((budget - l.SlotOffset) / l.SlotSize)
	check.That(l.Capacity >= 1, "slab: layout %s has no slots", l)
	l.Footprint = l.SlotOffset + uintptr(l.Capacity)*l.SlotSize
	l.MapSize = sysmem.RoundUpToPageSize(int(l.Footprint))
	return l, nil
}

// Budget returns the configured slab size in bytes.
func (l Layout) Budget() uintptr {
	return uintptr(l.BlocksPerSlab) * BlockSize
}

// Waste returns the bytes of the budget left unused after the last slot.
func (l Layout) Waste() uintptr {
	return l.Budget() - l.Footprint
}

// Blocks returns the number of index entries one slab occupies.
func (l Layout) Blocks() int {
	return int(sysmem.RoundUp(l.Footprint, BlockSize) / BlockSize)
}

// String summarises the layout for logs.
func (l Layout) String() string {
	return fmt.Sprintf("elem=%d/%d slot=%d capacity=%d overhead=%d footprint=%d map=%d",
		l.ElemSize, l.ElemAlign, l.SlotSize, l.Capacity, l.SlotOffset, l.Footprint, l.MapSize)
}
