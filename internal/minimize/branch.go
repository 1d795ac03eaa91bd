package minimize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/roach88/apifuzz/internal/cntg"
)

// Result summarizes one minimization pass.
type Result struct {
	Input    int      `json:"input"`
	Retained []string `json:"retained"`
	Removed  []string `json:"removed"`
	// Covered is the size of the preserved universe (branches or pairs).
	Covered int `json:"covered"`
}

// Measurer computes the individual coverage of programs.
type Measurer interface {
	Measure(ctx context.Context, paths []string) ([]cntg.Measurement, error)
}

// BranchOption configures ByBranchCoverage.
type BranchOption func(*branchConfig)

type branchConfig struct {
	dryRun   bool
	observer *Observer
}

// WithDryRun reports what would be removed without deleting files.
func WithDryRun() BranchOption {
	return func(c *branchConfig) { c.dryRun = true }
}

// WithObserver starts from an existing observer instead of an empty one.
func WithObserver(o *Observer) BranchOption {
	return func(c *branchConfig) { c.observer = o }
}

// ByBranchCoverage keeps the programs that contribute a unique branch and
// deletes the others from disk.
//
// Programs are visited by individual coverage percentage, highest first;
// equal percentages are visited in path order. Programs that fail to
// compile or run cover nothing and are removed.
func ByBranchCoverage(ctx context.Context, m Measurer, paths []string, opts ...BranchOption) (Result, error) {
	cfg := branchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.observer == nil {
		cfg.observer = NewObserver()
	}

	measured, err := m.Measure(ctx, paths)
	if err != nil {
		return Result{}, fmt.Errorf("minimize: %w", err)
	}
	sort.SliceStable(measured, func(i, j int) bool {
		pi, pj := measured[i].Coverage.Percent(), measured[j].Coverage.Percent()
		if pi != pj {
			return pi > pj
		}
		return measured[i].Path < measured[j].Path
	})

	res := Result{Input: len(paths)}
	for _, pm := range measured {
		if pm.Err == nil && cfg.observer.HasUniqueBranch(pm.Coverage) {
			cfg.observer.Merge(pm.Coverage)
			res.Retained = append(res.Retained, pm.Path)
			continue
		}
		res.Removed = append(res.Removed, pm.Path)
		if cfg.dryRun {
			continue
		}
		if err := os.Remove(pm.Path); err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("minimize: remove %s: %w", pm.Path, err)
		}
	}
	res.Covered = cfg.observer.Len()

	slog.Info("corpus minimized by branch coverage",
		"input", res.Input,
		"retained", len(res.Retained),
		"removed", len(res.Removed),
		"branches", res.Covered,
		"dry_run", cfg.dryRun)
	return res, nil
}
