package slab

import (
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabkit/internal/check"
	"github.com/joshuapare/slabkit/internal/sysmem"
)

// 1000-byte, 8-aligned elements fit four to a single-block slab on both 32-
// and 64-bit platforms.
const (
	cap4Size  = 1000
	cap4Align = 8
)

var errMapFailed = errors.New("mmap: cannot allocate memory")

// countingMapper wraps the OS mapper, records every live mapping and can be
// told to fail upcoming Map calls.
type countingMapper struct {
	os       sysmem.OS
	maps     int
	unmaps   int
	failNext int
	mapped   map[uintptr]int
}

func newCountingMapper() *countingMapper {
	return &countingMapper{mapped: make(map[uintptr]int)}
}

func (m *countingMapper) Map(size int) ([]byte, error) {
	if m.failNext > 0 {
		m.failNext--
		return nil, errMapFailed
	}
	b, err := m.os.Map(size)
	if err != nil {
		return nil, err
	}
	m.maps++
	m.mapped[sysmem.Addr(b)] = size
	return b, nil
}

func (m *countingMapper) Unmap(b []byte) error {
	size, ok := m.mapped[sysmem.Addr(b)]
	if !ok || size != len(b) {
		return errors.New("unmap of unknown region")
	}
	delete(m.mapped, sysmem.Addr(b))
	m.unmaps++
	return m.os.Unmap(b)
}

// newTestAllocator builds an allocator over a countingMapper and closes it
// when the test ends.
func newTestAllocator(t *testing.T, size, align uintptr, opts ...Option) (*Allocator, *countingMapper) {
	t.Helper()
	m := newCountingMapper()
	a, err := New(size, align, append([]Option{WithMapper(m)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, m
}

func mustAllocate(t *testing.T, a *Allocator) unsafe.Pointer {
	t.Helper()
	p, err := a.Allocate()
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func requireValid(t *testing.T, a *Allocator) {
	t.Helper()
	require.NoError(t, a.Verify())
}

// requireViolation runs fn and requires it to panic with a check.Violation
// whose message contains substr.
func requireViolation(t *testing.T, substr string, fn func()) {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected invariant violation")
	v, ok := got.(*check.Violation)
	require.True(t, ok, "panic value %T (%v) is not a *check.Violation", got, got)
	require.True(t, strings.Contains(v.Msg, substr), "violation %q does not mention %q", v.Msg, substr)
}

// elemBytes views the element at p as a byte slice.
func elemBytes(p unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(p), size)
}
