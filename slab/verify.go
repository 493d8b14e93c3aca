package slab

import "fmt"

// Verify walks both slab lists and the address index and checks every
// bookkeeping invariant. It returns an error wrapping ErrCorrupt describing
// the first inconsistency found. It is O(total slots) and meant for tests and
// diagnostics.
func (a *Allocator) Verify() error {
	seen := make(map[*Slab]string, a.slabCount())
	live := 0
	blocks := 0

	lists := []struct {
		name string
		list *slabList
		full bool
	}{
		{"non-full", &a.nonFull, false},
		{"full", &a.full, true},
	}

	for _, l := range lists {
		n := 0
		for s := range l.list.All() {
			n++
			if n > l.list.Size() {
				return corrupt("%s list has more than its recorded %d slabs", l.name, l.list.Size())
			}
			if prev, dup := seen[s]; dup {
				return corrupt("slab %#x on both the %s and %s lists", s.Begin(), prev, l.name)
			}
			seen[s] = l.name

			if s.IsFull() != l.full {
				return corrupt("slab %#x on %s list with %d/%d live", s.Begin(), l.name, s.Live(), s.Capacity())
			}
			if err := a.verifySlab(s); err != nil {
				return err
			}
			live += s.Live()

			for b := s.Begin(); b < s.End(); b += BlockSize {
				if owner := a.index[b]; owner != s {
					return corrupt("block %#x of slab %#x indexed to %p", b, s.Begin(), owner)
				}
				blocks++
			}
		}
		if n != l.list.Size() {
			return corrupt("%s list holds %d slabs, recorded size %d", l.name, n, l.list.Size())
		}
	}

	if len(a.index) != blocks {
		return corrupt("index holds %d entries for %d slab blocks", len(a.index), blocks)
	}
	for b, s := range a.index {
		if _, ok := seen[s]; !ok {
			return corrupt("index entry %#x points at unlisted slab %p", b, s)
		}
	}
	if live != a.live {
		return corrupt("slabs hold %d live elements, allocator counts %d", live, a.live)
	}
	return nil
}

func (a *Allocator) verifySlab(s *Slab) error {
	if s.capacity != a.layout.Capacity || s.slotSize != a.layout.SlotSize || s.footprint != a.layout.Footprint {
		return corrupt("slab %#x header disagrees with layout", s.Begin())
	}
	if s.Begin()%BlockSize != 0 {
		return corrupt("slab %#x not block aligned", s.Begin())
	}

	free := make(map[uintptr]struct{}, max(s.capacity-s.live, 0))
	for addr := s.free; addr != 0; addr = s.slotFor(addr).next {
		if s.slotIndex(addr) < 0 {
			return corrupt("slab %#x free list entry %#x is not a slot", s.Begin(), addr)
		}
		if _, dup := free[addr]; dup {
			return corrupt("slab %#x free list revisits %#x", s.Begin(), addr)
		}
		free[addr] = struct{}{}
	}
	if s.live+len(free) != s.capacity {
		return corrupt("slab %#x has %d live + %d free != capacity %d", s.Begin(), s.live, len(free), s.capacity)
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
