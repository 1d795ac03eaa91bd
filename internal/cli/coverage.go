package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/cntg"
)

// CoverageResult is the merged branch coverage of the compiled cores.
type CoverageResult struct {
	Profile       string  `json:"profile"`
	BranchesFound int     `json:"branches_found"`
	BranchesHit   int     `json:"branches_hit"`
	Percent       float64 `json:"percent"`
}

// NewCoverageCommand creates the coverage command.
func NewCoverageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Run compiled cores and merge their coverage profiles",
		Long: `Run every compiled core once under a deadline, merge the raw profiles
into one indexed profile and print the library branch coverage. Cores that
crash or time out are skipped with a warning.

Example:
  apifuzz coverage --config zlib.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(rootOpts, cmd)
		},
	}
}

func runCoverage(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	p, err := loadProject(opts)
	if err != nil {
		return stepError(formatter, "coverage", err)
	}

	res, err := collectCoverage(commandContext(cmd), p)
	if err != nil {
		return stepError(formatter, "coverage", err)
	}

	return formatter.Text(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Branch coverage %.2f%% (%d/%d)\n", res.Percent, res.BranchesHit, res.BranchesFound)
		fmt.Fprintf(w, "  profile: %s\n", res.Profile)
	})
}

func (p *project) collector() *cntg.Collector {
	return &cntg.Collector{Toolchain: p.tc, Layout: p.workLayout(), Timeout: p.cfg.CNTG.Timeout()}
}

// collectCoverage runs the compiled cores and reads the merged coverage.
func collectCoverage(ctx context.Context, p *project) (CoverageResult, error) {
	cores, err := cntg.DiscoverCores(p.workLayout(), p.cfg.Entry)
	if err != nil {
		return CoverageResult{}, err
	}
	collector := p.collector()
	profile, err := collector.CollectAll(ctx, cores)
	if err != nil {
		return CoverageResult{}, err
	}
	cov, err := collector.Coverage(ctx, profile, cntg.Binaries(cntg.CompiledCores(cores)))
	if err != nil {
		return CoverageResult{}, err
	}
	return CoverageResult{
		Profile:       profile,
		BranchesFound: cov.BranchesFound,
		BranchesHit:   cov.BranchesHit,
		Percent:       cov.Percent(),
	}, nil
}

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Output string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the coverage summary table",
		Long: `Render the llvm-cov summary of the compiled cores under the merged
profile written by coverage.

Example:
  apifuzz report --config zlib.cue
  apifuzz report --config zlib.cue -o coverage.txt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "report file (default <output_dir>/coverage_report.txt)")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "report", err)
	}

	out, err := writeReport(commandContext(cmd), p, opts.Output)
	if err != nil {
		return stepError(formatter, "report", err)
	}

	return formatter.Text(map[string]string{"report": out}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Coverage report written to %s\n", out)
	})
}

// writeReport writes the summary table to out, or to the default report
// path when out is empty. It returns the path written.
func writeReport(ctx context.Context, p *project, out string) (string, error) {
	if out == "" {
		out = filepath.Join(p.cfg.OutputDir, "coverage_report.txt")
	}
	cores, err := cntg.DiscoverCores(p.workLayout(), p.cfg.Entry)
	if err != nil {
		return "", err
	}
	if err := p.collector().Report(ctx, cores, out); err != nil {
		return "", err
	}
	return out, nil
}
