package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/cntg"
	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/engine"
	"github.com/roach88/apifuzz/internal/header"
	"github.com/roach88/apifuzz/internal/store"
	"github.com/roach88/apifuzz/internal/toolchain"
)

// newFormatter builds the formatter of one command invocation. Verbose
// output goes to stderr so JSON on stdout stays parseable.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// project bundles the loaded configuration with the toolchain built from it.
// Every command that touches the target library starts from one.
type project struct {
	cfg      *config.Config
	tc       *toolchain.Toolchain
	resolver *header.Resolver
}

// loadProject reads the config named by --config and wires the toolchain.
// Config problems are command errors (exit code 2).
func loadProject(opts *RootOptions) (*project, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	tc := toolchain.New(opts.Runner, cfg.Toolchain.CXX, cfg.Toolchain.Profdata, cfg.Toolchain.Cov)
	tc.Includes = append([]string{cfg.HeaderDir}, cfg.Toolchain.Includes...)
	tc.Libs = cfg.Toolchain.Libs
	tc.Extra = cfg.Toolchain.Extra

	slog.Debug("config loaded",
		"path", opts.Config,
		"target", cfg.Target,
		"mode", cfg.Mode,
		"output_dir", cfg.OutputDir)

	return &project{
		cfg:      cfg,
		tc:       tc,
		resolver: header.NewResolver(cfg.HeaderDir, tc),
	}, nil
}

// workLayout is the fusion work directory shared by fuse, compile,
// coverage and report.
func (p *project) workLayout() cntg.Layout {
	return cntg.Layout{Root: filepath.Join(p.cfg.OutputDir, "cntg")}
}

// seedDir is where the generation loop saves successful programs.
func (p *project) seedDir() string {
	return filepath.Join(p.cfg.OutputDir, "seeds")
}

// fuser returns a Fuser for layout with headers resolved from the
// configured header directory.
func (p *project) fuser(ctx context.Context, layout cntg.Layout) (cntg.Fuser, error) {
	res, err := p.resolver.Resolve(ctx)
	if err != nil {
		return cntg.Fuser{}, fmt.Errorf("resolve headers: %w", err)
	}
	return cntg.Fuser{
		Layout:         layout,
		BatchSize:      p.cfg.CNTG.BatchSize,
		Entry:          p.cfg.Entry,
		SystemHeaders:  res.SystemHeaders,
		LibraryHeaders: res.RequiredIncludes,
		ExpectReturn:   p.cfg.ExpectReturn,
	}, nil
}

// openStore opens the configured database, creating its directory.
// Callers must Close the store.
func (p *project) openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(p.cfg.Database), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	return store.Open(p.cfg.Database)
}

// closeStore closes st, logging any error.
func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// programFiles returns args when given, otherwise the .cc files of dir in
// name order.
func programFiles(args []string, dir string) ([]string, error) {
	if len(args) > 0 {
		for _, a := range args {
			if _, err := os.Stat(a); err != nil {
				return nil, &cntg.SetupError{What: "program", Path: a, Err: err}
			}
		}
		return args, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &cntg.SetupError{What: "seed directory", Path: dir, Hint: "fuzz", Err: err}
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cc") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, &cntg.SetupError{What: "programs", Path: dir, Hint: "fuzz"}
	}
	sort.Strings(paths)
	return paths, nil
}

// stepError reports err through the formatter and converts it to an
// ExitError. Missing prerequisites and config problems exit with
// ExitCommandError; everything else with ExitFailure.
func stepError(formatter *OutputFormatter, step string, err error) error {
	code, exit := ErrCodeGeneric, ExitFailure
	switch {
	case config.IsLoadError(err):
		code, exit = ErrCodeConfig, ExitCommandError
	case cntg.IsSetupError(err):
		code, exit = ErrCodeSetup, ExitCommandError
	case isCompileErrors(err):
		code = ErrCodeCompile
	case engine.IsGeneratorError(err):
		code = ErrCodeGenerator
	}
	_ = formatter.Error(code, fmt.Sprintf("%s: %v", step, err), nil)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(exit, step, err)
}

func isCompileErrors(err error) bool {
	_, ok := cntg.AsCompileErrors(err)
	return ok
}
