package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/generator"
	"github.com/roach88/apifuzz/internal/toolchain"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // project config file (CUE or YAML)

	// Runner overrides the toolchain runner (for testing).
	// If nil, tools run as child processes.
	Runner toolchain.Runner

	// Generator overrides the configured generator backend (for testing).
	Generator generator.Generator

	// LogWriter receives slog output. If nil, defaults to os.Stderr.
	LogWriter io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the apifuzz CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apifuzz",
		Short: "Coverage-guided API program generator for C/C++ libraries",
		Long: `apifuzz asks a language model for programs that call a C/C++ library,
keeps the ones that compile and run, and steers later requests toward
API combinations that have not yet been exercised.

Seed programs are fused into a few large binaries, compiled with LLVM
source-based coverage and run to measure library branch coverage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(opts)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "apifuzz.cue", "project config file")

	// Add subcommands
	cmd.AddCommand(NewHeadersCommand(opts))
	cmd.AddCommand(NewFuseCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewCoverageCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewRecomputeCommand(opts))
	cmd.AddCommand(NewMinimizeCommand(opts))
	cmd.AddCommand(NewFuzzCommand(opts))
	cmd.AddCommand(NewPipelineCommand(opts))
	cmd.AddCommand(NewSeedsCommand(opts))

	return cmd
}

// setupLogging installs the process-wide slog handler.
// Debug records are shown only with --verbose.
func setupLogging(opts *RootOptions) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	w := opts.LogWriter
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
