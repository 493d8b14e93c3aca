package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/slab"
)

var (
	layoutSize   uint
	layoutAlign  uint
	layoutBlocks int
)

func init() {
	cmd := newLayoutCmd()
	cmd.Flags().UintVar(&layoutSize, "size", 0, "Element size in bytes (required)")
	cmd.Flags().UintVar(&layoutAlign, "align", 8, "Element alignment in bytes (power of two)")
	cmd.Flags().IntVar(&layoutBlocks, "blocks", 1, "Slab size in 4KB blocks")
	_ = cmd.MarkFlagRequired("size")
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show the slab layout for an element size",
		Long: `The layout command derives how elements of the given size and
alignment are packed into slabs: slot stride, per-slab overhead, capacity
and unused bytes.

Example:
  slabctl layout --size 48
  slabctl layout --size 1000 --align 16 --blocks 4
  slabctl layout --size 64 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout()
		},
	}
	return cmd
}

func runLayout() error {
	l, err := slab.NewLayout(uintptr(layoutSize), uintptr(layoutAlign), layoutBlocks)
	if err != nil {
		return fmt.Errorf("failed to derive layout: %w", err)
	}

	if jsonOut {
		return printJSON(l)
	}

	printLayout(l)
	return nil
}

func printLayout(l slab.Layout) {
	printInfo("Slab Layout:\n")
	printInfo("  Element: %d bytes, aligned to %d\n", l.ElemSize, l.ElemAlign)
	printInfo("  Slot: %d bytes, aligned to %d\n", l.SlotSize, l.SlotAlign)
	printInfo("  Slab: %d x 4KB blocks (%s)\n", l.BlocksPerSlab, formatBytes(int64(l.Budget())))
	printInfo("  Header: %d bytes (first slot at %d)\n", l.HeaderSize, l.SlotOffset)
	printInfo("  Capacity: %s elements per slab\n", formatNumber(int64(l.Capacity)))
	printInfo("  Footprint: %s bytes, %s mapped\n", formatNumber(int64(l.Footprint)), formatBytes(int64(l.MapSize)))
	printInfo("  Unused: %d bytes\n", l.Waste())
	printVerbose("  Index entries per slab: %d\n", l.Blocks())
}
