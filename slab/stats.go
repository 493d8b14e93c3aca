package slab

// Stats is a snapshot of allocator state and lifetime counters.
type Stats struct {
	Live     int // live elements
	Capacity int // slots across all current slabs

	Slabs        int // current slabs
	NonFullSlabs int
	FullSlabs    int
	IndexEntries int   // address index size
	BytesMapped  int64 // bytes currently mapped for slabs

	AllocCalls    int64
	FreeCalls     int64
	FailedAllocs  int64 // Allocate calls that could not map a slab
	SlabsMapped   int64
	SlabsUnmapped int64
	EmptyRetained int64 // frees that left the sole non-full slab empty but mapped
}

// Utilization returns Live/Capacity, or 0 with no slabs.
func (s Stats) Utilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Live) / float64(s.Capacity)
}

// counters are the lifetime counters kept by an Allocator.
type counters struct {
	allocCalls    int64
	freeCalls     int64
	failedAllocs  int64
	slabsMapped   int64
	slabsUnmapped int64
	emptyRetained int64
}
