package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Operation   string
	Size        string
	Impl        string // "slab" or "heap"
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

// ComparisonResult pairs the slab and heap runs of one operation and size.
type ComparisonResult struct {
	Operation  string
	Size       string
	SlabNs     float64
	HeapNs     float64
	Speedup    float64 // HeapNs / SlabNs
	SlabMem    int64
	HeapMem    int64
	SlabAllocs int64
	HeapAllocs int64
	SlabOnly   bool
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

// Usage:
//
//	go test -run '^$' -bench . ./slab | go run ./scripts -output bench.md
func main() {
	flag.Parse()

	in := io.Reader(os.Stdin)
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	results := parseBenchmarks(bufio.NewScanner(in))
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}

	comparisons := generateComparisons(results)
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Generated %d comparisons\n", len(comparisons))
	}

	report := generateMarkdownReport(comparisons, time.Now())

	if *outputFile == "" {
		fmt.Fprint(os.Stdout, report)
		return
	}
	if err := os.WriteFile(*outputFile, []byte(report), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
	}
}

// BenchmarkAllocFree/slab/64B-8    50000000    21.3 ns/op    0 B/op    0 allocs/op
var benchmarkRegex = regexp.MustCompile(
	`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+B/op)?(?:\s+([\d.]+)\s+allocs/op)?`,
)

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult

	for scanner.Scan() {
		line := scanner.Text()

		// go test -json wraps each line in an event
		var event struct{ Output string }
		if err := json.Unmarshal([]byte(line), &event); err == nil && event.Output != "" {
			line = event.Output
		}

		matches := benchmarkRegex.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}

		r := BenchmarkResult{Name: matches[1]}
		r.Iterations, _ = strconv.Atoi(matches[2])
		r.NsPerOp, _ = strconv.ParseFloat(matches[3], 64)
		if matches[4] != "" {
			r.BytesPerOp, _ = strconv.ParseInt(matches[4], 10, 64)
		}
		if matches[5] != "" {
			r.AllocsPerOp, _ = strconv.ParseInt(matches[5], 10, 64)
		}
		r.Operation, r.Impl, r.Size = splitName(r.Name)
		results = append(results, r)
	}

	return results
}

// splitName splits Benchmark<Op>/<impl>/<size>-<procs>. Names without an impl
// segment are treated as slab-only.
func splitName(name string) (operation, impl, size string) {
	parts := strings.Split(strings.TrimPrefix(name, "Benchmark"), "/")
	last := len(parts) - 1
	if i := strings.LastIndex(parts[last], "-"); i > 0 {
		if _, err := strconv.Atoi(parts[last][i+1:]); err == nil {
			parts[last] = parts[last][:i]
		}
	}

	operation = parts[0]
	switch len(parts) {
	case 1:
		return operation, "slab", ""
	case 2:
		return operation, "slab", parts[1]
	default:
		return operation, parts[1], strings.Join(parts[2:], "/")
	}
}

func generateComparisons(results []BenchmarkResult) []ComparisonResult {
	type key struct {
		operation string
		size      string
	}

	grouped := make(map[key]map[string]BenchmarkResult)
	for _, result := range results {
		k := key{result.Operation, result.Size}
		if grouped[k] == nil {
			grouped[k] = make(map[string]BenchmarkResult)
		}
		grouped[k][result.Impl] = result
	}

	var comparisons []ComparisonResult
	for k, impls := range grouped {
		s, hasSlab := impls["slab"]
		if !hasSlab {
			continue
		}
		c := ComparisonResult{
			Operation:  k.operation,
			Size:       k.size,
			SlabNs:     s.NsPerOp,
			SlabMem:    s.BytesPerOp,
			SlabAllocs: s.AllocsPerOp,
		}
		if h, ok := impls["heap"]; ok {
			c.HeapNs = h.NsPerOp
			c.HeapMem = h.BytesPerOp
			c.HeapAllocs = h.AllocsPerOp
			if s.NsPerOp > 0 {
				c.Speedup = h.NsPerOp / s.NsPerOp
			}
		} else {
			c.SlabOnly = true
		}
		comparisons = append(comparisons, c)
	}

	sort.Slice(comparisons, func(i, j int) bool {
		if comparisons[i].Operation != comparisons[j].Operation {
			return comparisons[i].Operation < comparisons[j].Operation
		}
		return comparisons[i].Size < comparisons[j].Size
	})

	return comparisons
}

func generateMarkdownReport(comparisons []ComparisonResult, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("# Slab vs Heap Benchmark Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))

	slabFaster, heapFaster, slabOnly := 0, 0, 0
	totalSpeedup := 0.0
	for _, c := range comparisons {
		switch {
		case c.SlabOnly:
			slabOnly++
		case c.Speedup > 1.0:
			slabFaster++
		case c.Speedup < 1.0:
			heapFaster++
		}
		if !c.SlabOnly {
			totalSpeedup += c.Speedup
		}
	}

	paired := len(comparisons) - slabOnly
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- **Total benchmarks**: %d\n", len(comparisons))
	fmt.Fprintf(&sb, "- **Comparable** (slab and heap): %d\n", paired)
	if paired > 0 {
		fmt.Fprintf(&sb, "  - slab faster: %d (%.1f%%)\n", slabFaster, float64(slabFaster)/float64(paired)*100)
		fmt.Fprintf(&sb, "  - heap faster: %d (%.1f%%)\n", heapFaster, float64(heapFaster)/float64(paired)*100)
		fmt.Fprintf(&sb, "  - Average speedup: **%.2fx**\n", totalSpeedup/float64(paired))
	}
	fmt.Fprintf(&sb, "- **slab-only benchmarks**: %d\n\n", slabOnly)

	sb.WriteString("## Detailed Results\n\n")
	sb.WriteString("| Operation | Size | slab (ns/op) | heap (ns/op) | Speedup | Memory (B/op) | Allocs |\n")
	sb.WriteString("|-----------|------|--------------|--------------|---------|---------------|--------|\n")

	for _, c := range comparisons {
		if c.SlabOnly {
			fmt.Fprintf(&sb, "| %s | %s | %s | *N/A* | *slab only* | %s | %s |\n",
				c.Operation, c.Size,
				formatNumber(c.SlabNs),
				formatBytes(c.SlabMem),
				formatNumber(float64(c.SlabAllocs)),
			)
			continue
		}

		indicator, style := "✓", "**"
		if c.Speedup < 1.0 {
			indicator, style = "✗", ""
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s%.2fx%s %s | %s vs %s%s | %s vs %s%s |\n",
			c.Operation, c.Size,
			formatNumber(c.SlabNs),
			formatNumber(c.HeapNs),
			style, c.Speedup, style, indicator,
			formatBytes(c.SlabMem), formatBytes(c.HeapMem), lowerMark(c.SlabMem, c.HeapMem),
			formatNumber(float64(c.SlabAllocs)), formatNumber(float64(c.HeapAllocs)), lowerMark(c.SlabAllocs, c.HeapAllocs),
		)
	}

	sb.WriteString("\n## Notes\n\n")
	sb.WriteString("- **Speedup > 1.0**: the slab allocator is faster ✓\n")
	sb.WriteString("- **Speedup < 1.0**: the Go heap is faster ✗\n")
	sb.WriteString("- Heap rows include GC cost amortised into ns/op; slab rows allocate outside the Go heap\n")

	return sb.String()
}

func lowerMark(slab, heap int64) string {
	switch {
	case slab < heap:
		return " ✓"
	case slab > heap:
		return " ✗"
	}
	return ""
}

func formatNumber(n float64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.2fM", n/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.1fK", n/1000)
	}
	return fmt.Sprintf("%.0f", n)
}

func formatBytes(b int64) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%.2fMB", float64(b)/(1024*1024))
	} else if b >= 1024 {
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	}
	return fmt.Sprintf("%dB", b)
}
