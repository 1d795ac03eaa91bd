package cntg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// Compiler builds core directories into instrumented binaries.
type Compiler struct {
	Toolchain *toolchain.Toolchain
	// Workers bounds parallel compiles. Zero means runtime.NumCPU().
	Workers int
}

// CompileAll compiles every core in parallel.
//
// A failing core never stops its siblings. When any core fails, the
// returned error is a *CompileErrors listing all of them, sorted by core
// index. A cancelled context is returned as is.
func (c *Compiler) CompileAll(ctx context.Context, cores []Core) error {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	errs := &CompileErrors{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, core := range cores {
		g.Go(func() error {
			f, err := c.compile(gctx, core)
			if err != nil {
				return err
			}
			if f != nil {
				mu.Lock()
				errs.add(*f)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(errs.Failures) > 0 {
		errs.sort()
		slog.Error("core compilation failed",
			"failed", len(errs.Failures),
			"total", len(cores))
		return errs
	}
	slog.Info("cores compiled", "total", len(cores), "workers", workers)
	return nil
}

// Compile compiles one core. A compiler rejection is returned as a
// *CompileErrors with a single failure.
func (c *Compiler) Compile(ctx context.Context, core Core) error {
	f, err := c.compile(ctx, core)
	if err != nil {
		return err
	}
	if f != nil {
		return &CompileErrors{Failures: []CompileFailure{*f}}
	}
	return nil
}

// compile returns a failure for compiler rejections and start errors, and
// an error only when ctx ended.
func (c *Compiler) compile(ctx context.Context, core Core) (*CompileFailure, error) {
	res, err := c.Toolchain.Compile(ctx, core.Dir, core.Sources(), binaryName)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		slog.Warn("compiler did not start", "core", core.Index, "error", err)
		return &CompileFailure{Core: core.Index, Dir: core.Dir, ExitCode: -1, Err: err}, nil
	}
	if !res.Success() {
		stderr := string(res.Stderr)
		slog.Warn("core failed to compile",
			"core", core.Index,
			"exit_code", res.ExitCode,
			"link", IsLinkDiagnostic(stderr),
			"stderr", firstLine(stderr))
		return &CompileFailure{Core: core.Index, Dir: core.Dir, ExitCode: res.ExitCode, Stderr: stderr}, nil
	}
	slog.Debug("core compiled", "core", core.Index, "members", len(core.Members))
	return nil, nil
}

var (
	coreDirRe    = regexp.MustCompile(`^core_(\d{4,})$`)
	memberFileRe = regexp.MustCompile(`^member_(\d{2,})\.cc$`)
)

// DiscoverCores reads the core directories of a previous Fuse call.
//
// A missing cores directory is a *SetupError. Members are reconstructed
// from their file names; Seed and Copy are left empty.
func DiscoverCores(l Layout, entry string) ([]Core, error) {
	dirs, err := os.ReadDir(l.CoresDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SetupError{What: "cores directory", Path: l.CoresDir(), Hint: "fuse", Err: err}
		}
		return nil, fmt.Errorf("read cores: %w", err)
	}

	var cores []Core
	for _, d := range dirs {
		m := coreDirRe.FindStringSubmatch(d.Name())
		if !d.IsDir() || m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		dir := filepath.Join(l.CoresDir(), d.Name())
		core := Core{Index: idx, Dir: dir, Binary: filepath.Join(dir, binaryName)}

		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read core %s: %w", dir, err)
		}
		for _, f := range files {
			mm := memberFileRe.FindStringSubmatch(f.Name())
			if mm == nil {
				continue
			}
			j, _ := strconv.Atoi(mm[1])
			core.Members = append(core.Members, Member{
				Index: j,
				File:  filepath.Join(dir, f.Name()),
				Entry: fmt.Sprintf("%s_%d", entry, j),
			})
		}
		sort.Slice(core.Members, func(a, b int) bool { return core.Members[a].Index < core.Members[b].Index })
		cores = append(cores, core)
	}
	if len(cores) == 0 {
		return nil, &SetupError{What: "fused cores", Path: l.CoresDir(), Hint: "fuse"}
	}
	sort.Slice(cores, func(a, b int) bool { return cores[a].Index < cores[b].Index })
	return cores, nil
}

// CompiledCores filters cores to those whose binary exists.
func CompiledCores(cores []Core) []Core {
	var out []Core
	for _, c := range cores {
		if info, err := os.Stat(c.Binary); err == nil && !info.IsDir() {
			out = append(out, c)
		}
	}
	return out
}

// Binaries returns the binary paths of cores.
func Binaries(cores []Core) []string {
	out := make([]string, len(cores))
	for i, c := range cores {
		out[i] = c.Binary
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
