package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
	"unsafe"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/joshuapare/slabkit/slab"
)

// simulateConfig describes one synthetic workload.
type simulateConfig struct {
	Size      uintptr
	Align     uintptr
	Blocks    int
	Ops       int
	Seed      uint64
	FreeRatio float64 // probability that an op frees rather than allocates
	Rate      float64 // ops per second, 0 for unthrottled
	Verify    bool    // run Allocator.Verify after every op
}

var simCfg = simulateConfig{}

func init() {
	cmd := newSimulateCmd()
	var size, align uint
	cmd.Flags().UintVar(&size, "size", 64, "Element size in bytes")
	cmd.Flags().UintVar(&align, "align", 8, "Element alignment in bytes (power of two)")
	cmd.Flags().IntVar(&simCfg.Blocks, "blocks", 1, "Slab size in 4KB blocks")
	cmd.Flags().IntVar(&simCfg.Ops, "ops", 100000, "Number of allocate/free operations")
	cmd.Flags().Uint64Var(&simCfg.Seed, "seed", 1, "Random seed")
	cmd.Flags().Float64Var(&simCfg.FreeRatio, "free-ratio", 0.45, "Probability that an operation frees (0-1)")
	cmd.Flags().Float64Var(&simCfg.Rate, "rate", 0, "Throttle to this many operations per second (0 = unlimited)")
	cmd.Flags().BoolVar(&simCfg.Verify, "verify", false, "Verify allocator invariants after every operation (slow)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		simCfg.Size = uintptr(size)
		simCfg.Align = uintptr(align)
	}
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a random allocate/free workload",
		Long: `The simulate command drives a seeded random mix of allocations and
frees through a slab allocator. Every element is filled with a tag on
allocation and checked on free, and the allocator's statistics are reported
at the end. The same seed always produces the same workload.

Example:
  slabctl simulate --size 48 --ops 1000000
  slabctl simulate --size 256 --free-ratio 0.5 --verify
  slabctl simulate --size 64 --rate 500 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), simCfg)
		},
	}
	return cmd
}

// SimulateResult is the outcome of one workload.
type SimulateResult struct {
	Layout       slab.Layout
	Ops          int
	Allocs       int
	Frees        int
	FailedAllocs int
	PeakLive     int
	PeakSlabs    int
	PeakMapped   int64
	Elapsed      time.Duration
	Final        slab.Stats // after every remaining element was freed
}

func runSimulate(ctx context.Context, cfg simulateConfig) error {
	printVerbose("Simulating %d ops of %d-byte elements (seed %d)\n", cfg.Ops, cfg.Size, cfg.Seed)

	res, err := simulate(ctx, cfg, newLogger())
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}

	printLayout(res.Layout)
	printInfo("\nWorkload:\n")
	printInfo("  Operations: %s in %s\n", formatNumber(int64(res.Ops)), res.Elapsed.Round(time.Microsecond))
	printInfo("  Allocations: %s\n", formatNumber(int64(res.Allocs)))
	printInfo("  Frees: %s\n", formatNumber(int64(res.Frees)))
	if res.FailedAllocs > 0 {
		printInfo("  Failed allocations: %s\n", formatNumber(int64(res.FailedAllocs)))
	}
	printInfo("\nPeak:\n")
	printInfo("  Live elements: %s\n", formatNumber(int64(res.PeakLive)))
	printInfo("  Slabs: %s\n", formatNumber(int64(res.PeakSlabs)))
	printInfo("  Mapped: %s\n", formatBytes(res.PeakMapped))
	if res.PeakSlabs > 0 {
		used := float64(res.PeakLive) / float64(res.PeakSlabs*res.Layout.Capacity)
		printInfo("  Slot utilization: %s\n", formatPercent(used))
	}
	printInfo("\nSlab Lifecycle:\n")
	printInfo("  Mapped: %s\n", formatNumber(res.Final.SlabsMapped))
	printInfo("  Unmapped: %s\n", formatNumber(res.Final.SlabsUnmapped))
	printInfo("  Empty slab retained: %s times\n", formatNumber(res.Final.EmptyRetained))
	printInfo("  Remaining after drain: %d slab(s), %s\n", res.Final.Slabs, formatBytes(res.Final.BytesMapped))
	return nil
}

type liveElem struct {
	p   unsafe.Pointer
	tag byte
}

// simulate runs cfg to completion, then frees every remaining element.
func simulate(ctx context.Context, cfg simulateConfig, logger *slog.Logger) (*SimulateResult, error) {
	if cfg.Ops < 0 {
		return nil, fmt.Errorf("ops must not be negative, got %d", cfg.Ops)
	}
	if cfg.FreeRatio < 0 || cfg.FreeRatio > 1 {
		return nil, fmt.Errorf("free ratio must be within [0, 1], got %g", cfg.FreeRatio)
	}

	a, err := slab.New(cfg.Size, cfg.Align, slab.WithBlocksPerSlab(cfg.Blocks), slab.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create allocator: %w", err)
	}
	defer a.Close()

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	res := &SimulateResult{Layout: a.Layout()}
	var live []liveElem

	start := time.Now()
	for i := 0; i < cfg.Ops; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("interrupted after %d ops: %w", i, err)
			}
		} else if i%4096 == 0 && ctx.Err() != nil {
			return nil, fmt.Errorf("interrupted after %d ops: %w", i, ctx.Err())
		}

		if len(live) == 0 || rng.Float64() >= cfg.FreeRatio {
			p, err := a.Allocate()
			if errors.Is(err, slab.ErrOutOfMemory) {
				res.FailedAllocs++
				continue
			}
			if err != nil {
				return nil, err
			}
			tag := byte(rng.UintN(256))
			fill(p, cfg.Size, tag)
			live = append(live, liveElem{p: p, tag: tag})
			res.Allocs++
		} else {
			j := rng.IntN(len(live))
			if err := checkFill(live[j], cfg.Size); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			a.Free(live[j].p)
			live[j] = live[len(live)-1]
			live[len(live)-1] = liveElem{}
			live = live[:len(live)-1]
			res.Frees++
		}
		res.Ops++

		st := a.Stats()
		res.PeakLive = max(res.PeakLive, st.Live)
		res.PeakSlabs = max(res.PeakSlabs, st.Slabs)
		res.PeakMapped = max(res.PeakMapped, st.BytesMapped)

		if cfg.Verify {
			if err := a.Verify(); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	res.Elapsed = time.Since(start)

	for _, e := range live {
		if err := checkFill(e, cfg.Size); err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
		a.Free(e.p)
	}
	if err := a.Verify(); err != nil {
		return nil, fmt.Errorf("after drain: %w", err)
	}
	res.Final = a.Stats()
	return res, nil
}

func fill(p unsafe.Pointer, size uintptr, tag byte) {
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = tag
	}
}

func checkFill(e liveElem, size uintptr) error {
	for i, b := range unsafe.Slice((*byte)(e.p), size) {
		if b != e.tag {
			return fmt.Errorf("element %p corrupted at byte %d: got %#x, want %#x", e.p, i, b, e.tag)
		}
	}
	return nil
}
