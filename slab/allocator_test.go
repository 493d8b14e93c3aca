package slab

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"runtime/debug"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_FirstCallMapsSlab(t *testing.T) {
	a, m := newTestAllocator(t, 64, 8)

	st := a.Stats()
	assert.Zero(t, st.Slabs, "nothing mapped before the first Allocate")
	assert.Zero(t, m.maps)

	p := mustAllocate(t, a)
	assert.True(t, a.Owns(p))

	st = a.Stats()
	assert.Equal(t, 1, st.Slabs)
	assert.Equal(t, 1, st.NonFullSlabs)
	assert.Equal(t, 1, st.Live)
	assert.Equal(t, a.Layout().Capacity, st.Capacity)
	assert.Equal(t, a.Layout().Blocks(), st.IndexEntries)
	assert.Equal(t, int64(a.Layout().MapSize), st.BytesMapped)
	assert.Equal(t, 1, m.maps)
	requireValid(t, a)
}

func TestAllocate_AlignedUniqueAndDisjoint(t *testing.T) {
	tests := []struct {
		name   string
		size   uintptr
		align  uintptr
		blocks int
	}{
		{"small", 8, 8, 1},
		{"odd", 13, 1, 1},
		{"aligned 64", 48, 64, 1},
		{"capacity four", cap4Size, cap4Align, 1},
		{"multi block", 600, 16, 4},
		{"page aligned", 100, 4096, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAllocator(t, tt.size, tt.align, WithBlocksPerSlab(tt.blocks))
			n := 3*a.Layout().Capacity + 1

			seen := make(map[uintptr]int, n)
			ptrs := make([]unsafe.Pointer, n)
			for i := range ptrs {
				p := mustAllocate(t, a)
				addr := uintptr(p)
				require.Zero(t, addr%tt.align, "pointer %#x misaligned", addr)
				_, dup := seen[addr]
				require.False(t, dup, "pointer %#x handed out twice", addr)
				seen[addr] = i
				ptrs[i] = p

				b := elemBytes(p, tt.size)
				for j := range b {
					b[j] = byte(i)
				}
			}
			for i, p := range ptrs {
				for _, b := range elemBytes(p, tt.size) {
					require.Equal(t, byte(i), b, "element %d overwritten by a neighbour", i)
				}
			}
			assert.Equal(t, 4, a.Stats().Slabs)
			requireValid(t, a)
		})
	}
}

func TestAllocate_TwoCapacityPlusOneMakesThreeSlabs(t *testing.T) {
	a, m := newTestAllocator(t, cap4Size, cap4Align)
	capacity := a.Layout().Capacity
	require.Equal(t, 4, capacity)

	for i := 0; i < 2*capacity+1; i++ {
		mustAllocate(t, a)
	}

	st := a.Stats()
	assert.Equal(t, 3, st.Slabs)
	assert.Equal(t, 2, st.FullSlabs)
	assert.Equal(t, 1, st.NonFullSlabs)
	assert.Equal(t, 1, a.nonFull.Front().Live())
	for s := range a.full.All() {
		assert.True(t, s.IsFull())
	}
	assert.Equal(t, 3, m.maps)
	requireValid(t, a)
}

// A single slab emptied by frees is the sole non-full slab and is kept for
// reuse.
func TestFree_RetainsSoleEmptySlab(t *testing.T) {
	a, m := newTestAllocator(t, cap4Size, cap4Align)

	ptrs := make([]unsafe.Pointer, 4)
	for i := range ptrs {
		ptrs[i] = mustAllocate(t, a)
	}
	require.Equal(t, 1, a.Stats().FullSlabs)
	slabAddr := blockOf(ptrs[0])

	a.Free(ptrs[0])
	st := a.Stats()
	assert.Equal(t, 0, st.FullSlabs, "first free moves the slab off the full list")
	assert.Equal(t, 1, st.NonFullSlabs)
	requireValid(t, a)

	for _, p := range ptrs[1:] {
		a.Free(p)
		requireValid(t, a)
	}

	st = a.Stats()
	assert.Equal(t, 1, st.Slabs)
	assert.Equal(t, 0, st.Live)
	assert.Equal(t, int64(0), st.SlabsUnmapped)
	assert.Equal(t, int64(1), st.EmptyRetained)
	assert.Equal(t, 0, m.unmaps)

	p := mustAllocate(t, a)
	assert.Equal(t, slabAddr, blockOf(p), "allocation reuses the retained slab")
	assert.Equal(t, 1, m.maps, "no new mapping")
}

// Alternating Allocate/Free of one element maps exactly one slab.
func TestFree_NoThrashOnAlternatingTraffic(t *testing.T) {
	a, m := newTestAllocator(t, 64, 8)
	for i := 0; i < 1000; i++ {
		a.Free(mustAllocate(t, a))
	}
	assert.Equal(t, 1, m.maps)
	assert.Equal(t, 0, m.unmaps)
	assert.Equal(t, int64(1000), a.Stats().EmptyRetained)
}

func TestFree_DestroysEmptySlabWhenAnotherHasRoom(t *testing.T) {
	a, m := newTestAllocator(t, cap4Size, cap4Align)

	first := make([]unsafe.Pointer, 4)
	second := make([]unsafe.Pointer, 4)
	for i := range first {
		first[i] = mustAllocate(t, a)
	}
	for i := range second {
		second[i] = mustAllocate(t, a)
	}
	require.Equal(t, 2, a.Stats().FullSlabs)
	require.NotEqual(t, blockOf(first[0]), blockOf(second[0]))

	// Emptying the first slab leaves it as the sole non-full slab.
	for _, p := range first {
		a.Free(p)
	}
	st := a.Stats()
	require.Equal(t, 2, st.Slabs)
	require.Equal(t, 1, st.NonFullSlabs)
	require.Equal(t, 1, st.FullSlabs)

	// Emptying the second slab now finds two non-full slabs.
	for _, p := range second {
		a.Free(p)
		requireValid(t, a)
	}

	st = a.Stats()
	assert.Equal(t, 1, st.Slabs)
	assert.Equal(t, int64(1), st.SlabsUnmapped)
	assert.Equal(t, 1, m.unmaps)
	assert.Equal(t, a.Layout().Blocks(), st.IndexEntries)
	assert.False(t, a.Owns(second[0]), "index entries of the destroyed slab are gone")
	assert.True(t, a.Owns(first[0]))
	assert.Len(t, m.mapped, 1)
}

func TestFree_MostRecentlyFreedSlotIsReused(t *testing.T) {
	a, _ := newTestAllocator(t, 64, 8)
	require.GreaterOrEqual(t, a.Layout().Capacity, 3)

	p1 := mustAllocate(t, a)
	p2 := mustAllocate(t, a)
	mustAllocate(t, a)

	a.Free(p1)
	a.Free(p2)
	assert.Equal(t, p2, mustAllocate(t, a))
	assert.Equal(t, p1, mustAllocate(t, a))
}

func TestFree_FullSlabMovesToFrontOfNonFull(t *testing.T) {
	a, _ := newTestAllocator(t, cap4Size, cap4Align)

	var firstSlab []unsafe.Pointer
	for i := 0; i < 4; i++ {
		firstSlab = append(firstSlab, mustAllocate(t, a))
	}
	mustAllocate(t, a) // opens a second slab

	a.Free(firstSlab[2])
	assert.Equal(t, blockOf(firstSlab[0]), a.nonFull.Front().Begin())
	assert.Equal(t, firstSlab[2], mustAllocate(t, a), "next allocation comes from the slab just freed into")
	requireValid(t, a)
}

func TestAllocate_OutOfMemoryLeavesNoState(t *testing.T) {
	a, m := newTestAllocator(t, 64, 8)
	m.failNext = 1

	p, err := a.Allocate()
	assert.Nil(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.True(t, errors.Is(err, errMapFailed), "cause is preserved")

	st := a.Stats()
	assert.Zero(t, st.Slabs)
	assert.Zero(t, st.Live)
	assert.Zero(t, st.IndexEntries)
	assert.Equal(t, int64(1), st.FailedAllocs)
	requireValid(t, a)

	// The caller may retry once memory is available.
	mustAllocate(t, a)
	assert.Equal(t, 1, a.Stats().Slabs)
}

func TestAllocate_OutOfMemoryWithFullSlabs(t *testing.T) {
	a, m := newTestAllocator(t, cap4Size, cap4Align)
	var ptrs []unsafe.Pointer
	for i := 0; i < 4; i++ {
		ptrs = append(ptrs, mustAllocate(t, a))
	}

	m.failNext = 1
	_, err := a.Allocate()
	require.ErrorIs(t, err, ErrOutOfMemory)

	st := a.Stats()
	assert.Equal(t, 1, st.FullSlabs)
	assert.Equal(t, 4, st.Live)
	requireValid(t, a)

	a.Free(ptrs[0])
	assert.Equal(t, ptrs[0], mustAllocate(t, a))
}

func TestFree_ForeignPointerPanics(t *testing.T) {
	a, _ := newTestAllocator(t, 64, 8)
	mustAllocate(t, a)

	before := a.Stats()
	var local [64]byte
	requireViolation(t, "did not allocate", func() { a.Free(unsafe.Pointer(&local)) })
	assert.Equal(t, before, a.Stats(), "rejected free is not counted")
	requireValid(t, a)
}

func TestFree_FromOtherAllocatorPanics(t *testing.T) {
	a, _ := newTestAllocator(t, 64, 8)
	b, _ := newTestAllocator(t, 64, 8)
	mustAllocate(t, a)
	p := mustAllocate(t, b)

	requireViolation(t, "did not allocate", func() { a.Free(p) })
}

func TestFree_InteriorPointerPanicsWithoutSideEffects(t *testing.T) {
	a, _ := newTestAllocator(t, cap4Size, cap4Align)
	var p unsafe.Pointer
	for i := 0; i < 4; i++ {
		p = mustAllocate(t, a)
	}

	before := a.Stats()
	requireViolation(t, "is not a slot", func() { a.Free(unsafe.Add(p, 8)) })
	assert.Equal(t, 1, a.Stats().FullSlabs, "slab stays on the full list")
	assert.Equal(t, before, a.Stats())
	requireValid(t, a)
}

func TestFree_DoubleFreeOfLastElementPanics(t *testing.T) {
	a, _ := newTestAllocator(t, 64, 8)
	p := mustAllocate(t, a)
	a.Free(p)
	requireViolation(t, "no live slots", func() { a.Free(p) })
}

func TestFree_DoubleFreeDetectedWithFreeListCheck(t *testing.T) {
	a, _ := newTestAllocator(t, 64, 8, WithFreeListCheck())
	p := mustAllocate(t, a)
	mustAllocate(t, a)
	a.Free(p)

	before := a.Stats()
	requireViolation(t, "double free", func() { a.Free(p) })
	assert.Equal(t, before, a.Stats())
	assert.Equal(t, 1, a.Stats().Live)
	requireValid(t, a)
}

func TestFree_PointerIntoDestroyedSlabPanics(t *testing.T) {
	a, _ := newTestAllocator(t, cap4Size, cap4Align)
	var ptrs []unsafe.Pointer
	for i := 0; i < 8; i++ {
		ptrs = append(ptrs, mustAllocate(t, a))
	}
	for _, p := range ptrs[:4] {
		a.Free(p)
	}
	for _, p := range ptrs[4:] {
		a.Free(p)
	}
	require.Equal(t, 1, a.Stats().Slabs)

	requireViolation(t, "did not allocate", func() { a.Free(ptrs[4]) })
}

func TestAllocator_MultiBlockSlabIndexesEveryBlock(t *testing.T) {
	a, _ := newTestAllocator(t, 512, 8, WithBlocksPerSlab(4))
	l := a.Layout()
	require.Equal(t, 4, l.Blocks())

	ptrs := make([]unsafe.Pointer, l.Capacity)
	for i := range ptrs {
		ptrs[i] = mustAllocate(t, a)
	}
	assert.Equal(t, 4, a.Stats().IndexEntries)

	last := ptrs[len(ptrs)-1]
	require.NotEqual(t, blockOf(ptrs[0]), blockOf(last), "last slot lives in a later block")
	a.Free(last)
	assert.Equal(t, 0, a.Stats().FullSlabs)
	requireValid(t, a)
}

func TestClose_UnmapsEverySlab(t *testing.T) {
	a, m := newTestAllocator(t, cap4Size, cap4Align)
	for i := 0; i < 9; i++ {
		mustAllocate(t, a)
	}
	require.Equal(t, 3, m.maps)

	a.Close()

	assert.Equal(t, 3, m.unmaps)
	assert.Empty(t, m.mapped)
	st := a.Stats()
	assert.Zero(t, st.Slabs)
	assert.Zero(t, st.Live)
	assert.Zero(t, st.IndexEntries)
	assert.Equal(t, int64(3), st.SlabsUnmapped)

	assert.NotPanics(t, a.Close, "Close is idempotent")
	requireViolation(t, "closed allocator", func() { _, _ = a.Allocate() })
	requireViolation(t, "closed allocator", func() { a.Free(nil) })
}

// TestAllocator_RandomWorkload runs a seeded mix of allocations and frees and
// checks every invariant along the way.
func TestAllocator_RandomWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping random workload in short mode")
	}
	a, m := newTestAllocator(t, 96, 16, WithFreeListCheck())
	rng := rand.New(rand.NewPCG(42, 7))

	type elem struct {
		p   unsafe.Pointer
		tag byte
	}
	var live []elem
	owned := make(map[uintptr]bool)

	for step := 0; step < 20000; step++ {
		if len(live) == 0 || rng.IntN(100) < 55 {
			p := mustAllocate(t, a)
			require.False(t, owned[uintptr(p)], "step %d: live pointer reissued", step)
			owned[uintptr(p)] = true
			tag := byte(rng.IntN(256))
			b := elemBytes(p, 96)
			for j := range b {
				b[j] = tag
			}
			live = append(live, elem{p, tag})
		} else {
			i := rng.IntN(len(live))
			e := live[i]
			for _, b := range elemBytes(e.p, 96) {
				require.Equal(t, e.tag, b, "step %d: element corrupted", step)
			}
			a.Free(e.p)
			delete(owned, uintptr(e.p))
			live[i] = live[len(live)-1]
			live[len(live)-1] = elem{}
			live = live[:len(live)-1]
		}

		st := a.Stats()
		require.Equal(t, len(live), st.Live)
		if step%97 == 0 {
			requireValid(t, a)
		}
	}
	requireValid(t, a)

	for _, e := range live {
		a.Free(e.p)
	}
	st := a.Stats()
	assert.Zero(t, st.Live)
	assert.Equal(t, 1, st.Slabs, "only the retained slab survives")
	assert.Len(t, m.mapped, 1)
}

// TestAllocator_FreeUnderGCPressure fills elements with words that look like
// heap pointers, including addresses of objects the collector has since
// reclaimed, and frees them while collections run. Free must never let the
// GC interpret caller bytes as pointers.
func TestAllocator_FreeUnderGCPressure(t *testing.T) {
	defer debug.SetGCPercent(debug.SetGCPercent(1))

	a, _ := newTestAllocator(t, 96, 16)
	rng := rand.New(rand.NewPCG(5, 11))
	var live []unsafe.Pointer

	for step := 0; step < 5000; step++ {
		if len(live) == 0 || rng.IntN(100) < 55 {
			p := mustAllocate(t, a)
			words := unsafe.Slice((*uintptr)(p), 96/unsafe.Sizeof(uintptr(0)))
			for j := range words {
				switch rng.IntN(3) {
				case 0:
					words[j] = uintptr(unsafe.Pointer(new([48]byte)))
				case 1:
					words[j] = 0x0a0a0a0a
				default:
					words[j] = uintptr(rng.Uint64())
				}
			}
			live = append(live, p)
		} else {
			i := rng.IntN(len(live))
			a.Free(live[i])
			live[i] = live[len(live)-1]
			live[len(live)-1] = nil
			live = live[:len(live)-1]
		}
		if step%64 == 0 {
			runtime.GC()
		}
	}
	requireValid(t, a)

	for _, p := range live {
		a.Free(p)
	}
	runtime.GC()
	requireValid(t, a)
	assert.Zero(t, a.Stats().Live)
}

func TestAllocator_LogsSlabLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a, m := newTestAllocator(t, cap4Size, cap4Align, WithLogger(logger))

	var ptrs []unsafe.Pointer
	for i := 0; i < 5; i++ {
		ptrs = append(ptrs, mustAllocate(t, a))
	}
	a.Free(ptrs[4])
	for _, p := range ptrs[:4] {
		a.Free(p)
	}
	m.failNext = 1
	for i := 0; i < 5; i++ {
		_, _ = a.Allocate()
	}
	a.Close()

	out := buf.String()
	for _, msg := range []string{
		"slab allocator created",
		"slab mapped",
		"empty slab retained",
		"slab unmapped",
		"slab mapping failed",
		"slab allocator closed",
	} {
		assert.Contains(t, out, `"msg":"`+msg+`"`)
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(a *Allocator)
		want    string
	}{
		{
			name:    "stale index entry",
			corrupt: func(a *Allocator) { a.index[0x1000] = a.nonFull.Front() },
			want:    "index holds",
		},
		{
			name:    "live count drift",
			corrupt: func(a *Allocator) { a.live++ },
			want:    "allocator counts",
		},
		{
			name: "free list cycle",
			corrupt: func(a *Allocator) {
				s := a.nonFull.Front()
				s.slotFor(s.free).next = s.free
			},
			want: "free list revisits",
		},
		{
			name: "full slab on non-full list",
			corrupt: func(a *Allocator) {
				s := a.nonFull.Front()
				s.live = s.capacity
			},
			want: "on non-full list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAllocator(t, 64, 8)
			mustAllocate(t, a)
			requireValid(t, a)

			tt.corrupt(a)
			err := a.Verify()
			require.ErrorIs(t, err, ErrCorrupt)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
