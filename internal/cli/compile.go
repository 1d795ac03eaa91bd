package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/cntg"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Workers int
}

// CompileResult summarizes one compile step.
type CompileResult struct {
	Cores    int                   `json:"cores"`
	Compiled int                   `json:"compiled"`
	Failures []cntg.CompileFailure `json:"failures,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile fused cores with coverage instrumentation",
		Long: `Compile every core written by fuse into an instrumented binary, with up
to --workers compiles in parallel. A core that fails to compile does not
stop the others; all failures are reported together and the command exits
with status 1.

Example:
  apifuzz compile --config zlib.cue
  apifuzz compile --config zlib.cue --workers 8`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Workers, "workers", "j", 0, "parallel compiles (default from config, 0 = all CPUs)")

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "compile", err)
	}

	res, err := compileCores(commandContext(cmd), p, opts.Workers)
	if err != nil {
		return stepError(formatter, "compile", err)
	}

	if len(res.Failures) > 0 {
		if formatter.Format == "json" {
			_ = formatter.Error(ErrCodeCompile, fmt.Sprintf("%d core(s) failed to compile", len(res.Failures)), res)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ Compiled %d of %d core(s)\n", res.Compiled, res.Cores)
			for _, f := range res.Failures {
				fmt.Fprintf(formatter.Writer, "  %s\n", f.Error())
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d core(s) failed to compile", len(res.Failures)))
	}

	return formatter.Text(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Compiled %d core(s)\n", res.Compiled)
	})
}

// compileCores compiles the cores of the work layout. Per-core failures are
// returned in the result, not as an error.
func compileCores(ctx context.Context, p *project, workers int) (CompileResult, error) {
	cores, err := cntg.DiscoverCores(p.workLayout(), p.cfg.Entry)
	if err != nil {
		return CompileResult{}, err
	}
	if workers <= 0 {
		workers = p.cfg.CNTG.Workers
	}

	res := CompileResult{Cores: len(cores), Compiled: len(cores)}
	compiler := &cntg.Compiler{Toolchain: p.tc, Workers: workers}
	if err := compiler.CompileAll(ctx, cores); err != nil {
		ce, ok := cntg.AsCompileErrors(err)
		if !ok {
			return CompileResult{}, err
		}
		res.Failures = ce.Failures
		res.Compiled -= len(ce.Failures)
	}
	return res, nil
}
