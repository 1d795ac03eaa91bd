package minimize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/apifuzz/internal/callscan"
	"github.com/roach88/apifuzz/internal/ir"
)

type pairProgram struct {
	path  string
	pairs map[ir.CallPair]struct{}
}

// ByAPIPairs keeps the programs that contribute a call pair not seen in any
// previously kept program and copies them into outDir. Existing contents of
// outDir are removed first; the input files are left untouched. Inputs
// must have distinct base names since copies keep them.
//
// Programs are visited by distinct pair count, highest first; equal counts
// are visited in path order.
func ByAPIPairs(ctx context.Context, paths []string, outDir string) (Result, error) {
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		if prev, ok := names[base]; ok {
			return Result{}, fmt.Errorf("minimize: %s and %s would both be copied to %s", prev, p, base)
		}
		names[base] = p
	}

	programs := make([]pairProgram, 0, len(paths))
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return Result{}, fmt.Errorf("minimize: read %s: %w", p, err)
		}
		pairs, err := callscan.DistinctPairs(ctx, string(src))
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			slog.Warn("call scan failed", "program", p, "error", err)
			pairs = nil
		}
		programs = append(programs, pairProgram{path: p, pairs: pairs})
	}
	sort.SliceStable(programs, func(i, j int) bool {
		if len(programs[i].pairs) != len(programs[j].pairs) {
			return len(programs[i].pairs) > len(programs[j].pairs)
		}
		return programs[i].path < programs[j].path
	})

	if err := os.RemoveAll(outDir); err != nil {
		return Result{}, fmt.Errorf("minimize: clear %s: %w", outDir, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("minimize: create %s: %w", outDir, err)
	}

	covered := make(map[ir.CallPair]struct{})
	res := Result{Input: len(paths)}
	for _, prog := range programs {
		fresh := false
		for pair := range prog.pairs {
			if _, ok := covered[pair]; !ok {
				covered[pair] = struct{}{}
				fresh = true
			}
		}
		if !fresh {
			res.Removed = append(res.Removed, prog.path)
			continue
		}
		dst := filepath.Join(outDir, filepath.Base(prog.path))
		if err := copyFile(prog.path, dst); err != nil {
			return res, fmt.Errorf("minimize: copy %s: %w", prog.path, err)
		}
		res.Retained = append(res.Retained, prog.path)
	}
	res.Covered = len(covered)

	slog.Info("corpus minimized by API pairs",
		"input", res.Input,
		"retained", len(res.Retained),
		"pairs", res.Covered,
		"out", outDir)
	return res, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
