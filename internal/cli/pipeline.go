package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// PipelineOptions holds flags for the pipeline command.
type PipelineOptions struct {
	FuzzOptions
	SkipGenerate bool
}

// PipelineResult collects the output of every pipeline step.
type PipelineResult struct {
	Fuzz     *FuzzResult    `json:"fuzz,omitempty"`
	Fuse     FuseResult     `json:"fuse"`
	Compile  CompileResult  `json:"compile"`
	Coverage CoverageResult `json:"coverage"`
	Report   string         `json:"report"`
}

// NewPipelineCommand creates the pipeline command.
func NewPipelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{FuzzOptions: FuzzOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Generate seeds, then fuse, compile, collect and report",
		Long: `Run every step in order: fuzz, fuse, compile, coverage and report.
Cores that fail to compile are left out of the coverage measurement; the
pipeline stops only when no core compiled at all.

Example:
  apifuzz pipeline --config zlib.cue
  apifuzz pipeline --config zlib.cue --skip-generate`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue generation from the state saved in the database")
	cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "round cap (default from config)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "scheduler random seed (default time-based)")
	cmd.Flags().BoolVar(&opts.SkipGenerate, "skip-generate", false, "use the existing seed directory")

	return cmd
}

func runPipeline(opts *PipelineOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "pipeline", err)
	}

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	var res PipelineResult
	m := p.newMetrics()
	defer p.writeMetrics(m)

	if !opts.SkipGenerate {
		st, err := p.openStore()
		if err != nil {
			return stepError(formatter, "fuzz", err)
		}
		fz, err := generateSeeds(ctx, p, st, m, &opts.FuzzOptions)
		closeStore(st)
		if err != nil {
			return stepError(formatter, "fuzz", err)
		}
		res.Fuzz = &fz
		formatter.VerboseLog("Generated %d seed(s) in %d round(s)", fz.Seeds, fz.Rounds)
	}

	if res.Fuse, err = fuseSeeds(ctx, p, nil, 0); err != nil {
		return stepError(formatter, "fuse", err)
	}
	formatter.VerboseLog("Fused %d program(s) into %d core(s)", res.Fuse.Programs, len(res.Fuse.Cores))

	if res.Compile, err = compileCores(ctx, p, 0); err != nil {
		return stepError(formatter, "compile", err)
	}
	if res.Compile.Compiled == 0 {
		_ = formatter.Error(ErrCodeCompile, "no core compiled", res.Compile)
		return NewExitError(ExitFailure, "no core compiled")
	}
	for _, f := range res.Compile.Failures {
		slog.Warn("core left out of coverage", "core", f.Core, "error", f.Error())
	}

	if res.Coverage, err = collectCoverage(ctx, p); err != nil {
		return stepError(formatter, "coverage", err)
	}
	if m != nil {
		m.SetCoverage(res.Coverage.Percent)
	}

	if res.Report, err = writeReport(ctx, p, ""); err != nil {
		return stepError(formatter, "report", err)
	}

	if formatter.Format == "json" {
		sessionID := ""
		if res.Fuzz != nil {
			sessionID = res.Fuzz.SessionID
		}
		return formatter.SuccessWithSession(res, sessionID)
	}

	w := formatter.Writer
	if res.Fuzz != nil {
		printFuzzResult(w, *res.Fuzz)
	}
	printPipelineTail(w, res)
	return nil
}

func printPipelineTail(w io.Writer, res PipelineResult) {
	fmt.Fprintf(w, "✓ Fused %d program(s) into %d core(s)\n", res.Fuse.Programs, len(res.Fuse.Cores))
	fmt.Fprintf(w, "✓ Compiled %d of %d core(s)\n", res.Compile.Compiled, res.Compile.Cores)
	fmt.Fprintf(w, "✓ Branch coverage %.2f%% (%d/%d)\n",
		res.Coverage.Percent, res.Coverage.BranchesHit, res.Coverage.BranchesFound)
	fmt.Fprintf(w, "✓ Coverage report written to %s\n", res.Report)
}
