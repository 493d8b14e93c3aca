package slab

import (
	"errors"

	"github.com/joshuapare/slabkit/internal/check"
)

var (
	// ErrOutOfMemory indicates the OS refused to map memory for a new slab.
	ErrOutOfMemory = errors.New("slab: out of memory")

	// ErrInvalidLayout indicates an element size, alignment or slab size that
	// cannot describe a slab.
	ErrInvalidLayout = errors.New("slab: invalid layout")

	// ErrElementTooLarge indicates that not even one element fits in the
	// configured number of blocks per slab.
	ErrElementTooLarge = errors.New("slab: element does not fit in slab")

	// ErrCorrupt is returned by Verify when allocator bookkeeping is
	// inconsistent.
	ErrCorrupt = errors.New("slab: allocator state corrupt")
)

// Violation is the panic value raised when a call implies memory corruption,
// such as freeing a pointer the allocator never returned.
type Violation = check.Violation
