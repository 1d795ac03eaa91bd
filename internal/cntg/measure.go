package cntg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// Measurement is the individual coverage of one program.
type Measurement struct {
	Path     string
	Coverage toolchain.Coverage
	// Err is set when the program failed to compile or run.
	Err error
}

// Measurer computes per-program coverage by fusing every program into its
// own core.
type Measurer struct {
	Toolchain *toolchain.Toolchain
	// Fuser supplies entry name and headers; its BatchSize is forced to 1.
	Fuser   Fuser
	Workers int
	Timeout time.Duration
}

// Measure returns one Measurement per path, in input order.
//
// A program that fails to compile or run gets a Measurement with Err set
// and zero coverage. Only setup problems and cancellation are returned as
// errors.
func (m *Measurer) Measure(ctx context.Context, paths []string) ([]Measurement, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	fuser := m.Fuser
	fuser.BatchSize = 1
	cores, err := fuser.Fuse(paths)
	if err != nil {
		return nil, err
	}

	failed := map[int]error{}
	compiler := &Compiler{Toolchain: m.Toolchain, Workers: m.Workers}
	if err := compiler.CompileAll(ctx, cores); err != nil {
		ce, ok := AsCompileErrors(err)
		if !ok {
			return nil, err
		}
		for _, f := range ce.Failures {
			failed[f.Core] = &f
		}
	}

	collector := &Collector{Toolchain: m.Toolchain, Layout: fuser.Layout, Timeout: m.Timeout}
	out := make([]Measurement, len(cores))
	for i, core := range cores {
		out[i] = Measurement{Path: paths[i]}
		if err, ok := failed[core.Index]; ok {
			out[i].Err = err
			continue
		}
		cov, err := m.measureCore(ctx, collector, core)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("program not measured", "program", paths[i], "error", err)
			out[i].Err = err
			continue
		}
		out[i].Coverage = cov
	}
	return out, nil
}

func (m *Measurer) measureCore(ctx context.Context, c *Collector, core Core) (toolchain.Coverage, error) {
	profraw, err := c.RunCore(ctx, core)
	if err != nil {
		return toolchain.Coverage{}, err
	}
	indexed := c.Layout.IndexedProfile(core.Index)
	if err := m.Toolchain.MergeProfiles(ctx, indexed, profraw); err != nil {
		return toolchain.Coverage{}, fmt.Errorf("%s: %w", coreName(core.Index), err)
	}
	return c.Coverage(ctx, indexed, []string{core.Binary})
}
