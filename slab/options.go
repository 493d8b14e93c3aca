package slab

import (
	"log/slog"
	"os"

	"github.com/joshuapare/slabkit/internal/sysmem"
)

// Mapper obtains and releases the memory regions backing slabs. The default
// maps anonymous memory from the OS.
type Mapper = sysmem.Mapper

// Runtime allocation logging to stderr, enabled by SLABKIT_LOG_ALLOC when no
// logger is configured.
var logAlloc = os.Getenv("SLABKIT_LOG_ALLOC") != ""

type options struct {
	blocksPerSlab int
	logger        *slog.Logger
	mapper        Mapper
	checkFrees    bool
}

// Option configures an Allocator.
type Option func(*options)

// WithBlocksPerSlab sets the slab size in 4KB blocks. The default is 1.
func WithBlocksPerSlab(n int) Option {
	return func(o *options) { o.blocksPerSlab = n }
}

// WithLogger sets the logger for slab lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMapper replaces the OS mapper.
func WithMapper(m Mapper) Option {
	return func(o *options) { o.mapper = m }
}

// WithFreeListCheck makes Free walk the owning slab's free list to catch
// double frees. This turns Free into O(capacity).
func WithFreeListCheck() Option {
	return func(o *options) { o.checkFrees = true }
}

func buildOptions(opts []Option) options {
	o := options{blocksPerSlab: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mapper == nil {
		o.mapper = sysmem.OS{}
	}
	if o.logger == nil {
		if logAlloc {
			o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		} else {
			o.logger = slog.New(slog.DiscardHandler)
		}
	}
	return o
}
