package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/cntg"
	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/minimize"
)

// Minimization strategies.
const (
	StrategyBranch = "branch"
	StrategyPairs  = "pairs"
)

// MinimizeOptions holds flags for the minimize command.
type MinimizeOptions struct {
	*RootOptions
	Strategy string
	DryRun   bool
	Output   string
}

// NewMinimizeCommand creates the minimize command.
func NewMinimizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MinimizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "minimize [program.cc...]",
		Short: "Reduce a seed corpus without losing coverage",
		Long: `Keep only the programs that contribute something no other kept program
does.

  branch  measure every program alone and keep those adding a library
          branch; the others are deleted (use --dry-run to only report)
  pairs   keep programs adding a consecutive API call pair and copy them
          to --output; the input corpus is left untouched

The default strategy follows the configured mode: branch for fuzz-driver,
pairs for api-combination. Without arguments, the output seed directory is
minimized.

Example:
  apifuzz minimize --config zlib.cue --strategy branch --dry-run
  apifuzz minimize --config zlib.cue --strategy pairs -o out/minimized`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMinimize(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Strategy, "strategy", "s", "", "branch|pairs (default from mode)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report removals without deleting (branch only)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "pairs output directory (default <output_dir>/minimized)")

	return cmd
}

func runMinimize(opts *MinimizeOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "minimize", err)
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyPairs
		if p.cfg.Mode == config.ModeFuzzDriver {
			strategy = StrategyBranch
		}
	}
	if strategy != StrategyBranch && strategy != StrategyPairs {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("unknown strategy %q", strategy), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown strategy %q: must be %s or %s", strategy, StrategyBranch, StrategyPairs))
	}
	if opts.DryRun && strategy != StrategyBranch {
		_ = formatter.Error(ErrCodeGeneric, "--dry-run applies to the branch strategy only", nil)
		return NewExitError(ExitCommandError, "--dry-run applies to the branch strategy only")
	}

	paths, err := programFiles(args, p.seedDir())
	if err != nil {
		return stepError(formatter, "minimize", err)
	}
	formatter.VerboseLog("Minimizing %d program(s) by %s", len(paths), strategy)

	var res minimize.Result
	switch strategy {
	case StrategyBranch:
		fuser, ferr := p.fuser(ctx, cntg.Layout{Root: filepath.Join(p.cfg.OutputDir, "measure")})
		if ferr != nil {
			return stepError(formatter, "minimize", ferr)
		}
		m := &cntg.Measurer{
			Toolchain: p.tc,
			Fuser:     fuser,
			Workers:   p.cfg.CNTG.Workers,
			Timeout:   p.cfg.CNTG.Timeout(),
		}
		var bopts []minimize.BranchOption
		if opts.DryRun {
			bopts = append(bopts, minimize.WithDryRun())
		}
		res, err = minimize.ByBranchCoverage(ctx, m, paths, bopts...)
	case StrategyPairs:
		out := opts.Output
		if out == "" {
			out = filepath.Join(p.cfg.OutputDir, "minimized")
		}
		res, err = minimize.ByAPIPairs(ctx, paths, out)
	}
	if err != nil {
		return stepError(formatter, "minimize", err)
	}

	return formatter.Text(res, func(w io.Writer) {
		verb := "Kept"
		if opts.DryRun {
			verb = "Would keep"
		}
		fmt.Fprintf(w, "✓ %s %d of %d program(s) (%s strategy, %d covered)\n",
			verb, len(res.Retained), res.Input, strategy, res.Covered)
		if opts.Verbose {
			for _, r := range res.Removed {
				fmt.Fprintf(w, "  - %s\n", r)
			}
		}
	})
}
