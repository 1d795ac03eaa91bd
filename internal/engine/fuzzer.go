package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/apifuzz/internal/callscan"
	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/generator"
	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/metrics"
	"github.com/roach88/apifuzz/internal/minimize"
	"github.com/roach88/apifuzz/internal/schedule"
	"github.com/roach88/apifuzz/internal/store"
	"github.com/roach88/apifuzz/internal/toolchain"
)

// Settings are the loop parameters.
type Settings struct {
	Mode   string
	Target string

	// SeedDir receives successful programs; PairsDir their triple files;
	// MinimizedDir the api-combination minimization output.
	SeedDir      string
	PairsDir     string
	MinimizedDir string

	MaxRounds          int
	ProgramsPerRound   int
	QuietRounds        int
	ConvergeRounds     int
	NewTripleThreshold int
	RoundSuccessTarget int
	// Deadline bounds the whole loop; zero disables it.
	Deadline time.Duration
}

// SettingsFromConfig derives the loop settings from a project config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Mode:               cfg.Mode,
		Target:             cfg.Target,
		SeedDir:            filepath.Join(cfg.OutputDir, "seeds"),
		PairsDir:           filepath.Join(cfg.OutputDir, "seeds", "pairs"),
		MinimizedDir:       filepath.Join(cfg.OutputDir, "minimized"),
		MaxRounds:          cfg.Fuzz.MaxRounds,
		ProgramsPerRound:   cfg.Fuzz.ProgramsPerRound,
		QuietRounds:        cfg.Fuzz.QuietRounds,
		ConvergeRounds:     cfg.Fuzz.ConvergeRounds,
		NewTripleThreshold: cfg.Fuzz.NewTripleThreshold,
		RoundSuccessTarget: cfg.Fuzz.RoundSuccessTarget,
		Deadline:           cfg.Fuzz.Deadline(),
	}
}

// quietLimit is the quiet streak that ends the loop in the current mode.
// Fuzz-driver mode converges after ConvergeRounds; api-combination mode
// stops at whichever of QuietRounds and ConvergeRounds comes first.
func (s Settings) quietLimit() int {
	if s.Mode == config.ModeFuzzDriver {
		if s.ConvergeRounds > 0 {
			return s.ConvergeRounds
		}
		return s.QuietRounds
	}
	if s.ConvergeRounds > 0 && (s.QuietRounds <= 0 || s.ConvergeRounds < s.QuietRounds) {
		return s.ConvergeRounds
	}
	return s.QuietRounds
}

// Summary describes a finished loop.
type Summary struct {
	SessionID  string
	Rounds     int
	Verdicts   map[ir.Verdict]int
	Duplicates int
	Seeds      int
	Triples    int
	Branches   int
	Stop       StopReason
	Minimized  *minimize.Result
}

// Fuzzer drives the generation loop.
//
// Thread-safety: Run must not be called concurrently.
type Fuzzer struct {
	settings  Settings
	gen       generator.Generator
	sched     *schedule.Scheduler
	validator *Validator
	prompter  *Prompter
	store     *store.Store

	sessions SessionGenerator
	ids      *Clock
	now      func() time.Time
	metrics  *metrics.Metrics
	resume   bool
	minimize bool

	triples  *TripleSet
	observer *minimize.Observer
	gadgets  *gadgetCoverage
}

// Option configures a Fuzzer.
type Option func(*Fuzzer)

// WithSessionGenerator sets the session namer. Default: UUIDv7Generator.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(f *Fuzzer) { f.sessions = g }
}

// WithNow sets the wall clock used for seed timestamps and the deadline.
func WithNow(now func() time.Time) Option {
	return func(f *Fuzzer) { f.now = now }
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fuzzer) { f.metrics = m }
}

// WithResume restores scheduler counters, discovered triples and the
// program ID sequence from the store before the first round.
func WithResume() Option {
	return func(f *Fuzzer) { f.resume = true }
}

// WithoutMinimize skips corpus minimization after the loop.
func WithoutMinimize() Option {
	return func(f *Fuzzer) { f.minimize = false }
}

// New creates a Fuzzer.
func New(
	settings Settings,
	gen generator.Generator,
	sched *schedule.Scheduler,
	validator *Validator,
	prompter *Prompter,
	st *store.Store,
	opts ...Option,
) *Fuzzer {
	if settings.Mode == "" {
		settings.Mode = config.ModeAPICombination
	}
	f := &Fuzzer{
		settings:  settings,
		gen:       gen,
		sched:     sched,
		validator: validator,
		prompter:  prompter,
		store:     st,
		sessions:  UUIDv7Generator{},
		ids:       NewClock(),
		now:       time.Now,
		minimize:  true,
		triples:   NewTripleSet(),
		observer:  minimize.NewObserver(),
		gadgets:   newGadgetCoverage(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// roundResult is the feedback of one round.
type roundResult struct {
	successes []ir.Program
	fresh     []ir.CallTriple
	unique    int
}

// Run executes rounds until convergence, the round cap or the deadline,
// then minimizes the corpus. The summary is valid even when an error is
// returned.
func (f *Fuzzer) Run(ctx context.Context) (Summary, error) {
	sess := store.Session{
		ID:        f.sessions.Generate(),
		Mode:      f.settings.Mode,
		Target:    f.settings.Target,
		StartedAt: f.now(),
	}
	sum := Summary{SessionID: sess.ID, Verdicts: make(map[ir.Verdict]int)}
	if err := f.store.WriteSession(ctx, sess); err != nil {
		return sum, newRuntimeError(ErrCodeStore, 0, "record session", err)
	}
	if err := os.MkdirAll(f.settings.SeedDir, 0o755); err != nil {
		return sum, newRuntimeError(ErrCodeCorpus, 0, "create seed dir", err)
	}
	if err := f.prepare(ctx); err != nil {
		return sum, err
	}

	slog.Info("generation started",
		"session", sess.ID,
		"mode", f.settings.Mode,
		"target", f.settings.Target,
		"resume", f.resume)

	conv := NewConvergence(f.settings.quietLimit(), f.settings.MaxRounds)
	combo := f.firstCombination()
	for {
		if reason, done := conv.Done(); done {
			sum.Stop = reason
			break
		}
		if d := f.settings.Deadline; d > 0 && f.now().Sub(sess.StartedAt) > d {
			slog.Info("seed generation deadline reached", "deadline", d)
			sum.Stop = StopTimeout
			break
		}
		if err := ctx.Err(); err != nil {
			f.finish(&sum)
			return sum, err
		}

		round := conv.Rounds() + 1
		res, err := f.runRound(ctx, sess, round, combo, &sum)
		if err != nil {
			f.finish(&sum)
			return sum, err
		}
		loop := f.sched.IncrementLoop()

		stuck := len(res.successes) == 0
		hasNew := f.applyFeedback(res)
		conv.Record(hasNew, stuck)
		sum.Rounds = conv.Rounds()

		combo = f.sched.AssembleCombination()
		if err := f.store.SaveSchedulerState(ctx, f.sched.Snapshot()); err != nil {
			f.finish(&sum)
			return sum, newRuntimeError(ErrCodeStore, round, "save scheduler state", err)
		}
		if f.metrics != nil {
			f.metrics.ObserveRound(conv.Quiet(), f.triples.Len())
			f.metrics.SetBranches(f.observer.Len())
		}
		slog.Info("round finished",
			"loop", loop,
			"successes", len(res.successes),
			"new_triples", len(res.fresh),
			"unique_programs", res.unique,
			"quiet_round", conv.Quiet(),
			"discovered_triples", f.triples.Len(),
			"covered_branches", f.observer.Len())
	}
	f.finish(&sum)
	slog.Info("generation finished",
		"session", sess.ID,
		"stop", sum.Stop,
		"rounds", sum.Rounds,
		"seeds", sum.Seeds)

	if f.minimize {
		res, err := f.minimizeCorpus(ctx, sess.ID)
		if err != nil {
			return sum, err
		}
		sum.Minimized = &res
	}
	return sum, nil
}

// prepare restores persisted state or initializes the scheduler.
func (f *Fuzzer) prepare(ctx context.Context) error {
	if !f.resume {
		if f.settings.Mode == config.ModeAPICombination {
			f.sched.InitializeForAPIMode()
		}
		return nil
	}
	st, found, err := f.store.LoadSchedulerState(ctx)
	if err != nil {
		return newRuntimeError(ErrCodeStore, 0, "load scheduler state", err)
	}
	if found {
		f.sched.Restore(st)
	} else if f.settings.Mode == config.ModeAPICombination {
		f.sched.InitializeForAPIMode()
	}
	triples, err := f.store.ReadTriples(ctx)
	if err != nil {
		return newRuntimeError(ErrCodeStore, 0, "load triples", err)
	}
	f.triples.Add(triples)
	maxID, err := f.store.MaxProgramID(ctx)
	if err != nil {
		return newRuntimeError(ErrCodeStore, 0, "load program ids", err)
	}
	f.ids = NewClockAt(maxID)
	slog.Info("resumed previous state",
		"loop", f.sched.Loop(),
		"triples", f.triples.Len(),
		"last_program", maxID)
	return nil
}

// firstCombination continues with the combination saved for the next round
// when resuming, and draws a fresh one otherwise. Saved names missing from
// the catalog are dropped.
func (f *Fuzzer) firstCombination() []ir.Gadget {
	if f.resume {
		names := f.sched.LastCombination()
		combo := make([]ir.Gadget, 0, len(names))
		for _, name := range names {
			if g, ok := f.sched.Gadget(name); ok {
				combo = append(combo, g)
			}
		}
		if len(combo) > 0 {
			slog.Debug("resuming saved combination", "combination", gadgetNames(combo))
			return combo
		}
	}
	return f.sched.AssembleCombination()
}

// runRound generates and validates programs for combo until the round's
// success target is met or the combination proves unproductive, then
// records every success in the corpus.
func (f *Fuzzer) runRound(ctx context.Context, sess store.Session, round int, combo []ir.Gadget, sum *Summary) (roundResult, error) {
	var res roundResult
	succ, total := 0, 0
	target := f.settings.RoundSuccessTarget
	perRound := max(f.settings.ProgramsPerRound, 1)
	slog.Debug("round started", "round", round, "combination", gadgetNames(combo))

	for {
		prompt, err := f.prompter.Build(combo, perRound)
		if err != nil {
			return res, err
		}
		programs, err := f.gen.Generate(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, newRuntimeError(ErrCodeGenerator, round, "generate programs", err)
		}

		for _, p := range programs {
			p.ID = f.ids.Next()
			total++
			dup, err := f.store.HasProgram(ctx, p.Source)
			if err != nil {
				return res, newRuntimeError(ErrCodeStore, round, "check duplicate", err)
			}
			if dup {
				sum.Duplicates++
				slog.Debug("duplicate program dropped", "program", p.ID)
				continue
			}

			out, err := f.validator.Validate(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				return res, newRuntimeError(ErrCodeToolchain, round, "validate program", err)
			}
			p.Verdict, p.Detail = out.Verdict, out.Detail
			sum.Verdicts[out.Verdict]++
			if f.metrics != nil {
				f.metrics.ObserveProgram(out.Verdict, out.Elapsed.Seconds())
			}

			if out.Verdict.OK() {
				if err := f.acceptSeed(ctx, sess, &p, out.Coverage, &res); err != nil {
					return res, newRuntimeError(ErrCodeCorpus, round, "record seed", err)
				}
				succ++
				sum.Seeds++
			} else {
				slog.Debug("program rejected",
					"program", p.ID,
					"verdict", p.Verdict,
					"detail", firstLine(p.Detail))
			}
			if _, err := f.store.WriteProgram(ctx, sess.ID, p); err != nil {
				return res, newRuntimeError(ErrCodeStore, round, "record program", err)
			}
		}

		if succ >= target {
			break
		}
		if schedule.ShouldShuffle(succ, total) {
			slog.Info("combination unproductive, drawing a new one",
				"successes", succ,
				"attempts", total)
			break
		}
	}
	return res, nil
}

// acceptSeed saves a successful program to the corpus and extracts its
// feedback.
func (f *Fuzzer) acceptSeed(ctx context.Context, sess store.Session, p *ir.Program, cov toolchain.Coverage, res *roundResult) error {
	p.Path = filepath.Join(f.settings.SeedDir, fmt.Sprintf("id_%06d.cc", p.ID))
	if err := os.WriteFile(p.Path, []byte(p.Source), 0o644); err != nil {
		return err
	}
	meta := ir.SeedMeta{Path: p.Path, Elapsed: f.now().Sub(sess.StartedAt)}
	if err := f.store.AppendSeedMeta(ctx, sess.ID, meta); err != nil {
		return err
	}
	res.successes = append(res.successes, *p)

	calls, err := callscan.Calls(ctx, p.Source)
	if err != nil {
		slog.Warn("call scan failed", "program", p.ID, "error", err)
	}

	switch f.settings.Mode {
	case config.ModeFuzzDriver:
		if f.observer.HasUniqueBranch(cov) {
			res.unique++
		}
		f.observer.Merge(cov)
		f.gadgets.record(calls, cov, f.sched.Gadget)
	default:
		triples := callscan.Triples(calls)
		if _, err := WritePairsFile(f.settings.PairsDir, p.ID, triples); err != nil {
			return err
		}
		fresh := f.triples.Add(triples)
		res.fresh = append(res.fresh, fresh...)
		if _, err := f.store.InsertTriples(ctx, p.ID, triples); err != nil {
			return err
		}
	}
	return nil
}

// applyFeedback updates the scheduler and reports whether the round found
// something new.
func (f *Fuzzer) applyFeedback(res roundResult) bool {
	if len(res.successes) > 0 {
		f.prompter.AddExample(res.successes[len(res.successes)-1].Source)
	}

	if f.settings.Mode == config.ModeFuzzDriver {
		f.sched.UpdateEnergies(f.gadgets.stats())
		return res.unique > 0
	}

	if len(res.successes) == 0 {
		return false
	}
	if len(res.fresh) >= f.settings.NewTripleThreshold {
		f.sched.UpdateEnergiesFromTriples(res.fresh)
		return true
	}
	return false
}

// minimizeCorpus runs the mode's minimizer over the seeds of this session,
// or of every session when resuming.
func (f *Fuzzer) minimizeCorpus(ctx context.Context, sessionID string) (minimize.Result, error) {
	scope := sessionID
	if f.resume {
		scope = ""
	}
	metas, err := f.store.ReadSeedMetas(ctx, scope)
	if err != nil {
		return minimize.Result{}, newRuntimeError(ErrCodeStore, 0, "read seeds", err)
	}
	var paths []string
	for _, m := range metas {
		if _, err := os.Stat(m.Path); err == nil {
			paths = append(paths, m.Path)
		}
	}

	var res minimize.Result
	switch f.settings.Mode {
	case config.ModeFuzzDriver:
		slog.Info("minimizing corpus by branch coverage", "programs", len(paths))
		res, err = minimize.ByBranchCoverage(ctx, f.validator.Measurer(), paths)
	default:
		slog.Info("minimizing corpus by call pairs", "programs", len(paths), "out", f.settings.MinimizedDir)
		res, err = minimize.ByAPIPairs(ctx, paths, f.settings.MinimizedDir)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		return res, newRuntimeError(ErrCodeCorpus, 0, "minimize corpus", err)
	}
	return res, nil
}

// finish fills the summary counters and flushes metrics.
func (f *Fuzzer) finish(sum *Summary) {
	sum.Triples = f.triples.Len()
	sum.Branches = f.observer.Len()
	if f.metrics == nil {
		return
	}
	if s, ok := f.gen.(interface{ Stats() generator.Stats }); ok {
		f.metrics.SetGeneratorStats(s.Stats())
	}
}

func gadgetNames(gs []ir.Gadget) []string {
	names := make([]string, len(gs))
	for i, g := range gs {
		names[i] = g.Name
	}
	return names
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
