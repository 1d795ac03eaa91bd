package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/apifuzz/internal/catalog"
	"github.com/roach88/apifuzz/internal/cntg"
	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/engine"
	"github.com/roach88/apifuzz/internal/generator"
	"github.com/roach88/apifuzz/internal/metrics"
	"github.com/roach88/apifuzz/internal/minimize"
	"github.com/roach88/apifuzz/internal/schedule"
	"github.com/roach88/apifuzz/internal/store"
)

// FuzzOptions holds flags for the fuzz command.
type FuzzOptions struct {
	*RootOptions
	Resume     bool
	NoMinimize bool
	MaxRounds  int
	Seed       int64

	// Sessions allows overriding the session ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sessions engine.SessionGenerator
}

// FuzzResult summarizes one generation run.
type FuzzResult struct {
	SessionID  string           `json:"session_id"`
	Rounds     int              `json:"rounds"`
	Stop       string           `json:"stop"`
	Seeds      int              `json:"seeds"`
	Duplicates int              `json:"duplicates"`
	Triples    int              `json:"triples"`
	Branches   int              `json:"branches"`
	Verdicts   map[string]int   `json:"verdicts"`
	Minimized  *minimize.Result `json:"minimized,omitempty"`
}

// NewFuzzCommand creates the fuzz command.
func NewFuzzCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FuzzOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Generate seed programs with the language model",
		Long: `Run the generation loop: pick an API combination by energy, ask the
generator for programs using it, compile and run each candidate, and save
the ones that succeed as seeds. Feedback from new call triples
(api-combination mode) or new branches (fuzz-driver mode) steers the next
combination. The loop stops once rounds stop producing anything new, at
--max-rounds, or when the seed deadline passes. The seed corpus is then
minimized.

Interrupt with Ctrl-C to stop after the current request; progress is kept
in the database and can be continued with --resume.

Example:
  apifuzz fuzz --config zlib.cue
  apifuzz fuzz --config zlib.cue --resume --max-rounds 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue from the state saved in the database")
	cmd.Flags().BoolVar(&opts.NoMinimize, "no-minimize", false, "skip corpus minimization")
	cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "round cap (default from config)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "scheduler random seed (default time-based)")

	return cmd
}

func runFuzz(opts *FuzzOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	p, err := loadProject(opts.RootOptions)
	if err != nil {
		return stepError(formatter, "fuzz", err)
	}
	st, err := p.openStore()
	if err != nil {
		return stepError(formatter, "fuzz", err)
	}
	defer closeStore(st)

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	m := p.newMetrics()
	res, err := generateSeeds(ctx, p, st, m, opts)
	p.writeMetrics(m)
	if err != nil && !isInterrupted(err) {
		return stepError(formatter, "fuzz", err)
	}
	if isInterrupted(err) {
		slog.Info("generation interrupted", "session", res.SessionID, "rounds", res.Rounds)
	}

	if formatter.Format == "json" {
		return formatter.SuccessWithSession(res, res.SessionID)
	}
	printFuzzResult(formatter.Writer, res)
	return nil
}

// generateSeeds wires the generation loop from the project config and
// runs it. m may be nil.
func generateSeeds(ctx context.Context, p *project, st *store.Store, m *metrics.Metrics, opts *FuzzOptions) (FuzzResult, error) {
	if p.cfg.Catalog == "" {
		return FuzzResult{}, NewExitError(ExitCommandError, "config has no gadget catalog")
	}
	cat, err := catalog.Load(p.cfg.Catalog)
	if err != nil {
		return FuzzResult{}, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	headers, err := p.resolver.Resolve(ctx)
	if err != nil {
		return FuzzResult{}, fmt.Errorf("resolve headers: %w", err)
	}

	gen := opts.Generator
	if gen == nil {
		client, err := generator.New(p.cfg.Generator)
		if err != nil {
			return FuzzResult{}, WrapExitError(ExitCommandError, "failed to create generator", err)
		}
		gen = client
	}

	prompter, err := engine.NewPrompter(engine.PromptContext{
		Target:         p.cfg.Target,
		Entry:          p.cfg.Entry,
		ExpectReturn:   p.cfg.ExpectReturn,
		Mode:           p.cfg.Mode,
		SystemHeaders:  headers.SystemHeaders,
		LibraryHeaders: headers.RequiredIncludes,
		APIs:           cat.Gadgets,
	})
	if err != nil {
		return FuzzResult{}, err
	}

	fuser, err := p.fuser(ctx, cntg.Layout{})
	if err != nil {
		return FuzzResult{}, err
	}
	validator := engine.NewValidator(p.tc, fuser, filepath.Join(p.cfg.OutputDir, "validate"), p.cfg.CNTG.Timeout())

	settings := engine.SettingsFromConfig(p.cfg)
	if opts.MaxRounds > 0 {
		settings.MaxRounds = opts.MaxRounds
	}

	fopts := []engine.Option{}
	if m != nil {
		fopts = append(fopts, engine.WithMetrics(m))
	}
	if opts.Resume {
		fopts = append(fopts, engine.WithResume())
	}
	if opts.NoMinimize {
		fopts = append(fopts, engine.WithoutMinimize())
	}
	if opts.Sessions != nil {
		fopts = append(fopts, engine.WithSessionGenerator(opts.Sessions))
	}

	fz := engine.New(settings, gen, newScheduler(p.cfg, cat, opts.Seed), validator, prompter, st, fopts...)
	sum, err := fz.Run(ctx)
	return fuzzResult(sum), err
}

// newMetrics returns a metrics set when a textfile is configured.
func (p *project) newMetrics() *metrics.Metrics {
	if p.cfg.Metrics == "" {
		return nil
	}
	return metrics.New(p.cfg.Target)
}

// writeMetrics writes m to the configured textfile. Failures are logged.
func (p *project) writeMetrics(m *metrics.Metrics) {
	if m == nil {
		return
	}
	if err := m.WriteTextfile(p.cfg.Metrics); err != nil {
		slog.Error("failed to write metrics", "path", p.cfg.Metrics, "error", err)
	}
}

// newScheduler builds the energy scheduler from the schedule config.
// seed 0 seeds from the clock.
func newScheduler(cfg *config.Config, cat *catalog.Catalog, seed int64) *schedule.Scheduler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sopts := []schedule.Option{
		schedule.WithCombinationLen(cfg.Schedule.CombinationLen),
		schedule.WithExponent(cfg.Schedule.Exponent),
		schedule.WithEpsilon(cfg.Schedule.Epsilon),
		schedule.WithAlphaMin(cfg.Schedule.AlphaMin),
		schedule.WithRand(rand.New(rand.NewSource(seed))),
	}
	if s := cfg.Schedule.Starvation; s.MaxProb > 0 {
		sopts = append(sopts, schedule.WithStarvation(schedule.LogisticStarvation(s.MaxProb, s.Midpoint, s.Steepness)))
	}
	return schedule.New(cat.Gadgets, sopts...)
}

func fuzzResult(sum engine.Summary) FuzzResult {
	verdicts := make(map[string]int, len(sum.Verdicts))
	for v, n := range sum.Verdicts {
		verdicts[v.String()] = n
	}
	return FuzzResult{
		SessionID:  sum.SessionID,
		Rounds:     sum.Rounds,
		Stop:       string(sum.Stop),
		Seeds:      sum.Seeds,
		Duplicates: sum.Duplicates,
		Triples:    sum.Triples,
		Branches:   sum.Branches,
		Verdicts:   verdicts,
		Minimized:  sum.Minimized,
	}
}

func printFuzzResult(w io.Writer, res FuzzResult) {
	stop := res.Stop
	if stop == "" {
		stop = "interrupted"
	}
	fmt.Fprintf(w, "✓ Generation finished after %d round(s) (%s)\n", res.Rounds, stop)
	fmt.Fprintf(w, "  session:    %s\n", res.SessionID)
	fmt.Fprintf(w, "  seeds:      %d\n", res.Seeds)
	fmt.Fprintf(w, "  duplicates: %d\n", res.Duplicates)
	if res.Triples > 0 {
		fmt.Fprintf(w, "  triples:    %d\n", res.Triples)
	}
	if res.Branches > 0 {
		fmt.Fprintf(w, "  branches:   %d\n", res.Branches)
	}
	if res.Minimized != nil {
		fmt.Fprintf(w, "  minimized:  %d of %d kept\n", len(res.Minimized.Retained), res.Minimized.Input)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
