package main

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabkit/slab"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// referenceElemSize is the element size used to show this platform's slab
// geometry in the version output.
const referenceElemSize = 64

// VersionInfo describes the build and the slab geometry it produces.
type VersionInfo struct {
	Version    string
	Commit     string
	Built      string
	GoVersion  string
	Platform   string
	PageSize   int
	BlockSize  int
	HeaderSize uintptr
	Reference  slab.Layout // 64-byte, 8-aligned elements in one block
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and platform slab geometry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func buildVersionInfo() (VersionInfo, error) {
	l, err := slab.NewLayout(referenceElemSize, 8, 1)
	if err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{
		Version:    version,
		Commit:     commit,
		Built:      date,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		PageSize:   os.Getpagesize(),
		BlockSize:  slab.BlockSize,
		HeaderSize: l.HeaderSize,
		Reference:  l,
	}, nil
}

func runVersion() error {
	info, err := buildVersionInfo()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(info)
	}

	printInfo("slabctl %s\n", info.Version)
	printInfo("  commit: %s\n", info.Commit)
	printInfo("  built: %s\n", info.Built)
	printInfo("  go: %s %s\n", info.GoVersion, info.Platform)
	printInfo("  page size: %s, index block: %s\n", formatBytes(int64(info.PageSize)), formatBytes(int64(info.BlockSize)))
	printInfo("  slab header: %d bytes; %d-byte elements fit %d per block\n",
		info.HeaderSize, referenceElemSize, info.Reference.Capacity)
	return nil
}
