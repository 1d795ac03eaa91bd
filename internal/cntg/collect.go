package cntg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// DefaultRunTimeout bounds one core execution.
const DefaultRunTimeout = 30 * time.Second

// ErrRunFailed is returned when a core exits abnormally.
var ErrRunFailed = errors.New("core run failed")

// Collector runs compiled cores under coverage and merges their profiles.
type Collector struct {
	Toolchain *toolchain.Toolchain
	Layout    Layout
	// Timeout bounds each core run. Zero means DefaultRunTimeout.
	Timeout time.Duration
}

func (c *Collector) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultRunTimeout
}

// RunCore executes core once and returns the path of its raw profile.
//
// The run happens on its own goroutine. If the deadline passes first,
// RunCore returns ErrRunTimeout immediately and the run's eventual result
// is discarded.
func (c *Collector) RunCore(ctx context.Context, core Core) (string, error) {
	profraw := c.Layout.RawProfile(core.Index)
	if err := os.MkdirAll(filepath.Dir(profraw), 0o755); err != nil {
		return "", fmt.Errorf("create profiles dir: %w", err)
	}
	_ = os.Remove(profraw)

	res, err := runWithTimeout(ctx, c.timeout(), func(ctx context.Context) (toolchain.Result, error) {
		return c.Toolchain.RunInstrumented(ctx, core.Binary, profraw)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", coreName(core.Index), err)
	}
	if !res.Success() {
		return "", fmt.Errorf("%s: %w: exit %d", coreName(core.Index), ErrRunFailed, res.ExitCode)
	}
	if _, err := os.Stat(profraw); err != nil {
		return "", fmt.Errorf("%s: no profile written: %w", coreName(core.Index), err)
	}
	return profraw, nil
}

// runWithTimeout runs fn on a worker goroutine and waits at most d for it.
// The result channel is buffered so a worker finishing after the deadline
// never blocks; its result is dropped. The worker's context is cancelled
// when runWithTimeout returns.
func runWithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (toolchain.Result, error)) (toolchain.Result, error) {
	type outcome struct {
		res toolchain.Result
		err error
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := fn(runCtx)
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.res, out.err
	case <-timer.C:
		return toolchain.Result{ExitCode: -1}, ErrRunTimeout
	case <-ctx.Done():
		return toolchain.Result{ExitCode: -1}, ctx.Err()
	}
}

// CollectAll runs every compiled core and merges all raw profiles into
// Layout.MergedProfile. Cores that fail or time out are skipped.
func (c *Collector) CollectAll(ctx context.Context, cores []Core) (string, error) {
	compiled := CompiledCores(cores)
	if len(compiled) == 0 {
		return "", &SetupError{What: "compiled cores", Path: c.Layout.CoresDir(), Hint: "compile"}
	}

	var profiles []string
	for _, core := range compiled {
		profraw, err := c.RunCore(ctx, core)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.Warn("core skipped", "core", core.Index, "error", err)
			continue
		}
		profiles = append(profiles, profraw)
	}
	if len(profiles) == 0 {
		return "", fmt.Errorf("collect: none of %d cores produced a profile", len(compiled))
	}

	out := c.Layout.MergedProfile()
	if err := c.Toolchain.MergeProfiles(ctx, out, profiles...); err != nil {
		return "", err
	}
	slog.Info("coverage collected",
		"cores", len(compiled),
		"profiles", len(profiles),
		"profile", out)
	return out, nil
}

// Coverage reads branch coverage of binaries under profdata.
func (c *Collector) Coverage(ctx context.Context, profdata string, binaries []string) (toolchain.Coverage, error) {
	lcov, err := c.Toolchain.ExportLCOV(ctx, profdata, binaries)
	if err != nil {
		return toolchain.Coverage{}, err
	}
	return toolchain.ParseLCOV(lcov)
}

// Report writes the coverage summary of the compiled cores under the
// merged profile to out.
func (c *Collector) Report(ctx context.Context, cores []Core, out string) error {
	profile := c.Layout.MergedProfile()
	if _, err := os.Stat(profile); err != nil {
		return &SetupError{What: "merged profile", Path: profile, Hint: "coverage", Err: err}
	}
	compiled := CompiledCores(cores)
	if len(compiled) == 0 {
		return &SetupError{What: "compiled cores", Path: c.Layout.CoresDir(), Hint: "compile"}
	}

	text, err := c.Toolchain.Report(ctx, profile, Binaries(compiled))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := os.WriteFile(out, text, 0o644); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	slog.Info("coverage report written", "path", out)
	return nil
}
