//go:build windows

package sysmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// VirtualAlloc hands out regions on the 64KB allocation granularity, which
// satisfies BlockSize.
func mmap(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func munmap(b []byte) error {
	// MEM_RELEASE requires a zero size and frees the whole reservation.
	return windows.VirtualFree(uintptr(unsafe.Pointer(&b[0])), 0, windows.MEM_RELEASE)
}

func pageSize() int { return windows.Getpagesize() }
