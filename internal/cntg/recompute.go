package cntg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/toolchain"
)

// Recomputer back-fills cumulative branch coverage onto seed metadata.
type Recomputer struct {
	Toolchain *toolchain.Toolchain
	// Fuser supplies entry name and headers; its Layout and BatchSize are
	// replaced per batch.
	Fuser   Fuser
	Workers int
	Root    string
	Timeout time.Duration
}

// RecomputeStats summarizes one Recompute call.
type RecomputeStats struct {
	Batches   int     `json:"batches"`
	Succeeded int     `json:"succeeded"`
	Skipped   int     `json:"skipped"`
	Final     float64 `json:"final_coverage"`
}

// Recompute orders metas by discovery time (ir.SeedMeta.FoundBefore), splits them into batches of
// batchSize and, batch by batch, fuses, compiles and runs each one, merging
// its profile into a cumulative profile. Every record of a batch receives
// the cumulative branch coverage percentage as of that batch.
//
// A batch that fails to fuse, compile or run (including timeouts) is
// skipped and its records are left untouched. The returned slice is the
// reordered copy of metas.
func (r *Recomputer) Recompute(ctx context.Context, metas []ir.SeedMeta, batchSize int) ([]ir.SeedMeta, RecomputeStats, error) {
	var stats RecomputeStats
	if batchSize <= 0 {
		return nil, stats, fmt.Errorf("recompute: batch size must be positive, got %d", batchSize)
	}

	sorted := make([]ir.SeedMeta, len(metas))
	copy(sorted, metas)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FoundBefore(sorted[j]) })

	root := Layout{Root: r.Root}
	batchesDir := filepath.Join(r.Root, "batches")
	if err := os.RemoveAll(batchesDir); err != nil {
		return nil, stats, fmt.Errorf("recompute: %w", err)
	}
	cumulative := root.CumulativeProfile()
	if err := os.Remove(cumulative); err != nil && !os.IsNotExist(err) {
		return nil, stats, fmt.Errorf("recompute: %w", err)
	}

	var binaries []string
	for start := 0; start < len(sorted); start += batchSize {
		end := min(start+batchSize, len(sorted))
		b := stats.Batches
		stats.Batches++

		layout := Layout{Root: filepath.Join(batchesDir, fmt.Sprintf("batch_%04d", b))}
		binary, err := r.runBatch(ctx, layout, sorted[start:end], cumulative, len(binaries) == 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			stats.Skipped++
			slog.Warn("batch skipped", "batch", b, "seeds", end-start, "error", err)
			continue
		}
		binaries = append(binaries, binary)

		collector := &Collector{Toolchain: r.Toolchain, Layout: layout}
		cov, err := collector.Coverage(ctx, cumulative, binaries)
		if err != nil {
			return nil, stats, fmt.Errorf("recompute: batch %d coverage: %w", b, err)
		}
		pct := cov.Percent()
		for i := start; i < end; i++ {
			v := pct
			sorted[i].Coverage = &v
		}
		stats.Succeeded++
		stats.Final = pct
		slog.Info("batch coverage",
			"batch", b,
			"batch_hash", ir.BatchHash(metaPaths(sorted[start:end]))[:12],
			"seeds", end-start,
			"cumulative_pct", fmt.Sprintf("%.2f", pct))
	}
	return sorted, stats, nil
}

// runBatch fuses, compiles and runs one batch as a single core, then folds
// its profile into cumulative. It returns the core binary.
func (r *Recomputer) runBatch(ctx context.Context, layout Layout, metas []ir.SeedMeta, cumulative string, first bool) (string, error) {
	paths := metaPaths(metas)

	fuser := r.Fuser
	fuser.Layout = layout
	fuser.BatchSize = len(paths)
	cores, err := fuser.Fuse(paths)
	if err != nil {
		return "", err
	}
	core := cores[0]

	compiler := &Compiler{Toolchain: r.Toolchain, Workers: r.Workers}
	if err := compiler.Compile(ctx, core); err != nil {
		return "", err
	}

	collector := &Collector{Toolchain: r.Toolchain, Layout: layout, Timeout: r.Timeout}
	profraw, err := collector.RunCore(ctx, core)
	if err != nil {
		return "", err
	}

	indexed := layout.IndexedProfile(core.Index)
	if err := r.Toolchain.MergeProfiles(ctx, indexed, profraw); err != nil {
		return "", err
	}
	if first {
		if err := copyFile(indexed, cumulative); err != nil {
			return "", fmt.Errorf("seed cumulative profile: %w", err)
		}
		return core.Binary, nil
	}

	tmp := cumulative + ".tmp"
	if err := r.Toolchain.MergeProfiles(ctx, tmp, cumulative, indexed); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, cumulative); err != nil {
		return "", fmt.Errorf("update cumulative profile: %w", err)
	}
	return core.Binary, nil
}

func metaPaths(metas []ir.SeedMeta) []string {
	paths := make([]string, len(metas))
	for i, m := range metas {
		paths[i] = m.Path
	}
	return paths
}
