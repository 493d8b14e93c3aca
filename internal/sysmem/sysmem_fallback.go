//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package sysmem

import (
	"errors"
	"os"
	"sync"
)

// Without an anonymous mapping facility, regions are carved from block-aligned
// windows into heap arrays. The arrays stay registered until Unmap so the
// collector keeps them alive while only mapped memory references them.
var (
	heapMu   sync.Mutex
	heapRefs = map[uintptr][]byte{}
)

var errNotMapped = errors.New("region was not returned by Map")

func mmap(size int) ([]byte, error) {
	raw := make([]byte, size+BlockSize)
	off := int(RoundUp(Addr(raw), BlockSize) - Addr(raw))
	b := raw[off : off+size : off+size]

	heapMu.Lock()
	heapRefs[Addr(b)] = raw
	heapMu.Unlock()
	return b, nil
}

func munmap(b []byte) error {
	heapMu.Lock()
	defer heapMu.Unlock()
	if _, ok := heapRefs[Addr(b)]; !ok {
		return errNotMapped
	}
	delete(heapRefs, Addr(b))
	return nil
}

func pageSize() int { return os.Getpagesize() }
