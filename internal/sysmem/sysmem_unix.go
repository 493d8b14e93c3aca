//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sysmem

import "golang.org/x/sys/unix"

func mmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}

func pageSize() int { return unix.Getpagesize() }
