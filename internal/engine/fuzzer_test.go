package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/metrics"
	"github.com/roach88/apifuzz/internal/store"
	"github.com/roach88/apifuzz/internal/testutil"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestFuzzer(t *testing.T, settings Settings, gen *testutil.FakeGenerator, st *store.Store, session string, opts ...Option) *Fuzzer {
	t.Helper()
	clock := testutil.NewFakeClock(epoch)
	opts = append([]Option{
		WithSessionGenerator(testutil.NewFixedSessionGenerator(session)),
		WithNow(clock.Now),
	}, opts...)
	return New(settings,
		gen,
		newTestScheduler(),
		newTestValidator(t, testutil.NewFakeLLVM(10)),
		newTestPrompter(t, settings.Mode),
		st,
		opts...)
}

func TestFuzzer_APICombinationConverges(t *testing.T) {
	p1 := program("a();", "b();", "c();")
	bad := program("a()", "/* BROKEN_SYNTAX */")
	p2 := program("a();", "b();", "c();", "d();")
	p3 := program("int x = 0;", "a();", "b();", "c();")
	p4 := program("int y = 1;", "a();", "b();", "c();")
	gen := testutil.NewFakeGenerator([]string{p1}, []string{bad, p1}, []string{p2}, []string{p3}, []string{p4})

	settings := testSettings(t, config.ModeAPICombination)
	st := openTestStore(t)
	m := metrics.New("zlib")
	f := newTestFuzzer(t, settings, gen, st, "s-1", WithMetrics(m))

	sum, err := f.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "s-1", sum.SessionID)
	assert.Equal(t, StopConverged, sum.Stop)
	assert.Equal(t, 4, sum.Rounds)
	assert.Equal(t, map[ir.Verdict]int{ir.VerdictSuccess: 4, ir.VerdictSyntaxError: 1}, sum.Verdicts)
	assert.Equal(t, 1, sum.Duplicates, "the resubmitted first program is dropped before validation")
	assert.Equal(t, 4, sum.Seeds)
	assert.Equal(t, 2, sum.Triples)
	assert.Equal(t, 5, gen.Calls())

	// The first prompt has no example; later prompts carry the last success.
	prompts := gen.Prompts()
	assert.Equal(t, 2, prompts[0].Samples)
	assert.NotContains(t, prompts[0].Messages[1].Content, "successful examples")
	assert.Contains(t, prompts[1].Messages[1].Content, strings.TrimSpace(p1))

	pairs, err := os.ReadFile(filepath.Join(settings.PairsDir, "1.pairs"))
	require.NoError(t, err)
	assert.Equal(t, "(\"a\", \"b\", \"c\")\n", string(pairs))
	assert.FileExists(t, filepath.Join(settings.SeedDir, "id_000004.cc"))

	ctx := context.Background()
	counts, err := st.VerdictCounts(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 4, counts[ir.VerdictSuccess])
	assert.Equal(t, 1, counts[ir.VerdictSyntaxError])

	triples, err := st.ReadTriples(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.CallTriple{triple("a", "b", "c"), triple("b", "c", "d")}, triples)

	metas, err := st.ReadSeedMetas(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, metas, 4)

	state, found, err := st.LoadSchedulerState(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, state.Loop)
	assert.Len(t, state.LastCombination, 3)

	require.NotNil(t, sum.Minimized)
	assert.Equal(t, 4, sum.Minimized.Input)
	assert.Equal(t, []string{filepath.Join(settings.SeedDir, "id_000004.cc")}, sum.Minimized.Retained)
	assert.FileExists(t, filepath.Join(settings.MinimizedDir, "id_000004.cc"))
}

func TestFuzzer_FuzzDriverTracksUniqueBranches(t *testing.T) {
	q1 := program("a();", "b();", testutil.Covers(1, 2))
	q2 := program("c();", testutil.Covers(2))
	q3 := program("a();", testutil.Covers(1))
	q4 := program("b();", testutil.Covers(2))
	gen := testutil.NewFakeGenerator([]string{q1, q2}, []string{q3}, []string{q4})

	settings := testSettings(t, config.ModeFuzzDriver)
	st := openTestStore(t)
	f := newTestFuzzer(t, settings, gen, st, "s-fd")

	sum, err := f.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopConverged, sum.Stop)
	assert.Equal(t, 3, sum.Rounds)
	assert.Equal(t, 4, sum.Seeds)
	assert.Equal(t, 2, sum.Branches)
	assert.Zero(t, sum.Triples, "fuzz-driver mode does not collect triples")
	assert.NoDirExists(t, settings.PairsDir)

	seedA, ok := f.sched.Seed("a")
	require.True(t, ok)
	assert.Equal(t, 2, seedA.ExecCount)
	assert.InDelta(t, 0.2, seedA.Coverage, 1e-9)
	seedC, _ := f.sched.Seed("c")
	assert.InDelta(t, 0.1, seedC.Coverage, 1e-9)

	require.NotNil(t, sum.Minimized)
	assert.Equal(t, []string{filepath.Join(settings.SeedDir, "id_000001.cc")}, sum.Minimized.Retained)
	assert.Len(t, sum.Minimized.Removed, 3)
	assert.FileExists(t, filepath.Join(settings.SeedDir, "id_000001.cc"))
	assert.NoFileExists(t, filepath.Join(settings.SeedDir, "id_000002.cc"))
}

func TestFuzzer_ResumeContinuesState(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	settings := testSettings(t, config.ModeAPICombination)
	settings.MaxRounds = 1

	first := newTestFuzzer(t, settings, testutil.NewFakeGenerator([]string{program("a();", "b();", "c();")}), st, "s-1", WithoutMinimize())
	_, err := first.Run(ctx)
	require.NoError(t, err)

	second := newTestFuzzer(t, settings,
		testutil.NewFakeGenerator([]string{program("a();", "b();", "c();", "d();")}),
		st, "s-2", WithResume())
	sum, err := second.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StopMaxRounds, sum.Stop)
	assert.Equal(t, 2, sum.Triples, "restored triple plus the new one")
	assert.FileExists(t, filepath.Join(settings.SeedDir, "id_000002.cc"), "IDs continue after the stored maximum")

	state, _, err := st.LoadSchedulerState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Loop)

	require.NotNil(t, sum.Minimized)
	assert.Equal(t, 2, sum.Minimized.Input, "resumed runs minimize every session's seeds")
}

func TestFuzzer_ResumeStartsFromSavedCombination(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	settings := testSettings(t, config.ModeAPICombination)
	settings.MaxRounds = 1

	first := newTestFuzzer(t, settings, testutil.NewFakeGenerator([]string{program("a();", "b();", "c();")}), st, "s-1", WithoutMinimize())
	_, err := first.Run(ctx)
	require.NoError(t, err)

	state, found, err := st.LoadSchedulerState(ctx)
	require.NoError(t, err)
	require.True(t, found)
	state.LastCombination = []string{"e", "d", "gone", "c"}
	require.NoError(t, st.SaveSchedulerState(ctx, state))

	gen := testutil.NewFakeGenerator([]string{program("e();", "d();", "c();")})
	second := newTestFuzzer(t, settings, gen, st, "s-2", WithResume(), WithoutMinimize())
	_, err = second.Run(ctx)
	require.NoError(t, err)

	gadgets := testGadgets()
	want, err := newTestPrompter(t, config.ModeAPICombination).Build([]ir.Gadget{gadgets[4], gadgets[3], gadgets[2]}, settings.ProgramsPerRound)
	require.NoError(t, err)
	prompts := gen.Prompts()
	require.NotEmpty(t, prompts)
	assert.Equal(t, want, prompts[0])
}

func TestFuzzer_DeadlineStopsLoop(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	tick := func() time.Time { return clock.Advance(time.Second) }

	settings := testSettings(t, config.ModeAPICombination)
	settings.Deadline = 3 * time.Second
	gen := testutil.NewFakeGenerator(
		[]string{program("a();", "b();", "c();")},
		[]string{program("b();", "c();", "d();")},
		[]string{program("c();", "d();", "e();")},
	)
	f := newTestFuzzer(t, settings, gen, openTestStore(t), "s-1", WithNow(tick), WithoutMinimize())

	sum, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopTimeout, sum.Stop)
	assert.Equal(t, 2, sum.Rounds)
	assert.Nil(t, sum.Minimized)
}

func TestFuzzer_GeneratorFailureEndsRun(t *testing.T) {
	settings := testSettings(t, config.ModeAPICombination)
	f := newTestFuzzer(t, settings, testutil.NewFakeGenerator(), openTestStore(t), "s-1")

	sum, err := f.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsGeneratorError(err))
	assert.ErrorIs(t, err, testutil.ErrScriptExhausted)
	assert.Zero(t, sum.Rounds)
}

func TestFuzzer_UnproductiveCombinationIsShuffled(t *testing.T) {
	broken := make([]string, 10)
	for i := range broken {
		broken[i] = program("a();", "/* BROKEN_LINK */", strings.Repeat("b();", i+1))
	}
	gen := testutil.NewFakeGenerator(broken[:5], broken[5:], []string{program("a();", "b();", "c();")})

	settings := testSettings(t, config.ModeAPICombination)
	settings.MaxRounds = 2
	f := newTestFuzzer(t, settings, gen, openTestStore(t), "s-1", WithoutMinimize())

	sum, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Verdicts[ir.VerdictLinkError])
	assert.Equal(t, 1, sum.Verdicts[ir.VerdictSuccess])
	assert.Equal(t, 2, sum.Rounds, "ten straight failures end the first round")
	assert.Equal(t, 3, gen.Calls())
}

func TestSettingsFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
target:     "zlib"
header_dir: "/usr/include/zlib"
output_dir: "/tmp/out"
mode:       "fuzz-driver"
fuzz: seed_timeout: "2m"
`))
	require.NoError(t, err)

	s := SettingsFromConfig(cfg)
	assert.Equal(t, "/tmp/out/seeds", s.SeedDir)
	assert.Equal(t, "/tmp/out/minimized", s.MinimizedDir)
	assert.Equal(t, 2*time.Minute, s.Deadline)
	assert.Equal(t, cfg.Fuzz.ConvergeRounds, s.quietLimit())
}

func TestSettings_QuietLimit(t *testing.T) {
	tests := []struct {
		name            string
		mode            string
		quiet, converge int
		want            int
	}{
		{"api quiet first", config.ModeAPICombination, 3, 10, 3},
		{"api converge first", config.ModeAPICombination, 10, 4, 4},
		{"api converge off", config.ModeAPICombination, 5, 0, 5},
		{"driver uses converge", config.ModeFuzzDriver, 3, 10, 10},
		{"driver converge off", config.ModeFuzzDriver, 3, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{Mode: tt.mode, QuietRounds: tt.quiet, ConvergeRounds: tt.converge}
			assert.Equal(t, tt.want, s.quietLimit())
		})
	}
}
