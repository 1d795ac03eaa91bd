package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/engine"
	"github.com/roach88/apifuzz/internal/store"
)

// SeedsOptions holds flags for the seeds subcommands.
type SeedsOptions struct {
	*RootOptions
	Output  string
	Session string
}

// NewSeedsCommand creates the seeds command group.
func NewSeedsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Export or import the seed metadata table",
		Long: `Move seed metadata (path, time-to-find, cumulative coverage) between
the database and CSV files with the header "path,elapsed_seconds,coverage".`,
	}

	cmd.AddCommand(newSeedsExportCommand(rootOpts))
	cmd.AddCommand(newSeedsImportCommand(rootOpts))

	return cmd
}

func newSeedsExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write seed metadata as CSV",
		Long: `Write the seed metadata table as CSV to --output or stdout.

Example:
  apifuzz seeds export --config zlib.cue -o seeds.csv
  apifuzz seeds export --config zlib.cue --session 0190c2...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedsExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "CSV file (default stdout)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only seeds of this session (default all)")

	return cmd
}

func runSeedsExport(opts *SeedsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "seeds export", err)
	}
	st, err := p.openStore()
	if err != nil {
		return stepError(formatter, "seeds export", err)
	}
	defer closeStore(st)

	if opts.Output == "" {
		// CSV is the payload; no envelope around it.
		if _, err := st.ExportSeedMetaCSV(commandContext(cmd), cmd.OutOrStdout(), opts.Session); err != nil {
			return stepError(formatter, "seeds export", err)
		}
		return nil
	}

	f, err := os.Create(opts.Output)
	if err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("creating %s: %v", opts.Output, err), nil)
		return WrapExitError(ExitCommandError, "seeds export", err)
	}
	n, err := st.ExportSeedMetaCSV(commandContext(cmd), f, opts.Session)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return stepError(formatter, "seeds export", err)
	}

	return formatter.Text(map[string]any{"path": opts.Output, "seeds": n}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Exported %d seed(s) to %s\n", n, opts.Output)
	})
}

func newSeedsImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Load seed metadata from CSV",
		Long: `Append the records of a CSV export to the database under --session,
creating the session when needed. Paths already recorded are not added
again; their coverage is updated when the CSV carries one.

Example:
  apifuzz seeds import --config zlib.cue seeds.csv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedsImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "session to import into (default new)")

	return cmd
}

func runSeedsImport(opts *SeedsOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	f, err := os.Open(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("opening %s: %v", path, err), nil)
		return WrapExitError(ExitCommandError, "seeds import", err)
	}
	defer f.Close()

	metas, err := store.ReadSeedMetaCSV(f)
	if err != nil {
		return stepError(formatter, "seeds import", err)
	}

	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "seeds import", err)
	}
	st, err := p.openStore()
	if err != nil {
		return stepError(formatter, "seeds import", err)
	}
	defer closeStore(st)

	sessionID := opts.Session
	if sessionID == "" {
		sessionID = engine.UUIDv7Generator{}.Generate()
	}
	sess := store.Session{
		ID:        sessionID,
		Mode:      p.cfg.Mode,
		Target:    p.cfg.Target,
		StartedAt: time.Now(),
	}
	if err := st.ImportSeedMetas(ctx, sess, metas); err != nil {
		return stepError(formatter, "seeds import", err)
	}

	if formatter.Format == "json" {
		return formatter.SuccessWithSession(map[string]int{"seeds": len(metas)}, sessionID)
	}
	fmt.Fprintf(formatter.Writer, "✓ Imported %d seed(s) into session %s\n", len(metas), sessionID)
	return nil
}
