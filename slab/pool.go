package slab

import "unsafe"

// Pool is an Allocator for values of type T.
//
// Values live in memory the garbage collector does not scan. T must not
// contain Go pointers (pointers, slices, maps, strings, interfaces, channels
// or funcs) that are the only reference to heap memory.
type Pool[T any] struct {
	a *Allocator
}

// NewPool creates a pool sized and aligned for T.
func NewPool[T any](opts ...Option) (*Pool[T], error) {
	var zero T
	a, err := New(unsafe.Sizeof(zero), unsafe.Alignof(zero), opts...)
	if err != nil {
		return nil, err
	}
	return &Pool[T]{a: a}, nil
}

// Get returns a pointer to a zeroed T.
func (p *Pool[T]) Get() (*T, error) {
	ptr, err := p.a.Allocate()
	if err != nil {
		return nil, err
	}
	v := (*T)(ptr)
	var zero T
	*v = zero
	return v, nil
}

// Put releases v, which must have come from Get on this pool.
func (p *Pool[T]) Put(v *T) {
	p.a.Free(unsafe.Pointer(v))
}

// Allocator returns the underlying allocator.
func (p *Pool[T]) Allocator() *Allocator { return p.a }

// Stats returns the underlying allocator's stats.
func (p *Pool[T]) Stats() Stats { return p.a.Stats() }

// Close releases all memory of the pool.
func (p *Pool[T]) Close() { p.a.Close() }
