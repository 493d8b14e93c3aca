// Package sysmem provides anonymous, private, read-write memory straight from
// the OS, outside the Go heap.
//
// Regions returned by Map are page aligned and must be released with Unmap
// on the same Mapper. The garbage collector does not scan them, so they must
// never hold the only reference to a Go heap object.
package sysmem

import (
	"errors"
	"fmt"
	"unsafe"
)

// BlockSize is the alignment every mapping is guaranteed to satisfy.
const BlockSize = 4096

// ErrBadSize is returned for non-positive mapping sizes.
var ErrBadSize = errors.New("sysmem: mapping size must be positive")

// Mapper obtains and releases page-granular memory regions.
type Mapper interface {
	Map(size int) ([]byte, error)
	Unmap(b []byte) error
}

// OS is the Mapper backed by the operating system.
type OS struct{}

// Map returns a new zeroed region of exactly size bytes.
func (OS) Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	b, err := mmap(size)
	if err != nil {
		return nil, fmt.Errorf("sysmem: map %d bytes: %w", size, err)
	}
	return b, nil
}

// Unmap releases a region previously returned by Map.
func (OS) Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := munmap(b); err != nil {
		return fmt.Errorf("sysmem: unmap %d bytes at %#x: %w", len(b), Addr(b), err)
	}
	return nil
}

// PageSize returns the OS page size.
func PageSize() int { return pageSize() }

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// RoundUpToPageSize rounds n up to a multiple of the OS page size.
func RoundUpToPageSize(n int) int {
	return int(RoundUp(uintptr(n), uintptr(PageSize())))
}

// Addr returns the address of the first byte of b.
func Addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
