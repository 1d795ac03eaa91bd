package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/cntg"
)

// RecomputeOptions holds flags for the recompute command.
type RecomputeOptions struct {
	*RootOptions
	BatchSize int
	Session   string
}

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecomputeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Back-fill cumulative coverage onto seed metadata",
		Long: `Replay the recorded seeds in the order they were found, --batch-size at
a time, and store on every seed the cumulative branch coverage reached by
the end of its batch. The result is a coverage-over-time curve of the
generation run.

A batch that fails to build or run is skipped and its seeds keep their
previous coverage.

Example:
  apifuzz recompute --config zlib.cue
  apifuzz recompute --config zlib.cue --batch-size 10 --session 0190c2...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 0, "seeds per batch (default from config)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only seeds of this session (default all)")

	return cmd
}

func runRecompute(opts *RecomputeOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "recompute", err)
	}
	st, err := p.openStore()
	if err != nil {
		return stepError(formatter, "recompute", err)
	}
	defer closeStore(st)

	metas, err := st.ReadSeedMetas(ctx, opts.Session)
	if err != nil {
		return stepError(formatter, "recompute", err)
	}
	if len(metas) == 0 {
		return stepError(formatter, "recompute",
			&cntg.SetupError{What: "seed metadata", Path: p.cfg.Database, Hint: "fuzz"})
	}

	fuser, err := p.fuser(ctx, cntg.Layout{})
	if err != nil {
		return stepError(formatter, "recompute", err)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = p.cfg.CNTG.BatchSize
	}
	formatter.VerboseLog("Recomputing coverage of %d seed(s) in batches of %d", len(metas), batch)

	r := &cntg.Recomputer{
		Toolchain: p.tc,
		Fuser:     fuser,
		Workers:   p.cfg.CNTG.Workers,
		Root:      filepath.Join(p.cfg.OutputDir, "recompute"),
		Timeout:   p.cfg.CNTG.Timeout(),
	}
	updated, stats, err := r.Recompute(ctx, metas, batch)
	if err != nil {
		return stepError(formatter, "recompute", err)
	}
	if err := st.UpdateSeedCoverage(ctx, updated); err != nil {
		return stepError(formatter, "recompute", err)
	}

	return formatter.Text(stats, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Recomputed %d batch(es), %d skipped\n", stats.Batches, stats.Skipped)
		fmt.Fprintf(w, "  final cumulative coverage: %.2f%%\n", stats.Final)
	})
}
