package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/cntg"
)

// FuseOptions holds flags for the fuse command.
type FuseOptions struct {
	*RootOptions
	BatchSize int
}

// FuseResult describes the cores written by fuse.
type FuseResult struct {
	Programs int         `json:"programs"`
	Root     string      `json:"root"`
	Cores    []cntg.Core `json:"cores"`
}

// NewFuseCommand creates the fuse command.
func NewFuseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FuseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fuse [program.cc...]",
		Short: "Fuse seed programs into core directories",
		Long: `Copy seed programs into the work directory and group them into cores of
--batch-size programs each. Every program's entry function is renamed so
all members of a core link into one binary, and a driver calls them in
order.

Without arguments, every .cc file in the output seed directory is fused.

Example:
  apifuzz fuse --config zlib.cue
  apifuzz fuse --config zlib.cue --batch-size 20 out/seeds/id_000001.cc`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuse(opts, args, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 0, "programs per core (default from config)")

	return cmd
}

func runFuse(opts *FuseOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "fuse", err)
	}

	res, err := fuseSeeds(commandContext(cmd), p, args, opts.BatchSize)
	if err != nil {
		return stepError(formatter, "fuse", err)
	}
	formatter.VerboseLog("Fused %d program(s) under %s", res.Programs, res.Root)

	return formatter.Text(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Fused %d program(s) into %d core(s)\n", res.Programs, len(res.Cores))
		for _, c := range res.Cores {
			fmt.Fprintf(w, "  %s  %d member(s)\n", c.Dir, len(c.Members))
		}
	})
}

// fuseSeeds fuses the given programs (or the seed directory) into the work
// layout. batchSize 0 keeps the configured size.
func fuseSeeds(ctx context.Context, p *project, args []string, batchSize int) (FuseResult, error) {
	paths, err := programFiles(args, p.seedDir())
	if err != nil {
		return FuseResult{}, err
	}
	fuser, err := p.fuser(ctx, p.workLayout())
	if err != nil {
		return FuseResult{}, err
	}
	if batchSize > 0 {
		fuser.BatchSize = batchSize
	}
	cores, err := fuser.Fuse(paths)
	if err != nil {
		return FuseResult{}, err
	}
	return FuseResult{Programs: len(paths), Root: fuser.Layout.Root, Cores: cores}, nil
}
