package engine

import (
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/cntg"
	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/schedule"
	"github.com/roach88/apifuzz/internal/store"
	"github.com/roach88/apifuzz/internal/testutil"
)

const testEntry = "test_zlib_api_sequence"

// program renders an entry function whose body is the given statements.
func program(stmts ...string) string {
	var b strings.Builder
	b.WriteString("int " + testEntry + "() {\n")
	for _, s := range stmts {
		b.WriteString("    " + s + "\n")
	}
	b.WriteString("    return 66;\n}\n")
	return b.String()
}

func testGadgets() []ir.Gadget {
	return []ir.Gadget{
		{Name: "a", Signature: "int a(void)"},
		{Name: "b", Signature: "int b(int)"},
		{Name: "c"},
		{Name: "d"},
		{Name: "e"},
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apifuzz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestValidator(t *testing.T, llvm *testutil.FakeLLVM) *Validator {
	t.Helper()
	fuser := cntg.Fuser{Entry: testEntry, ExpectReturn: 66}
	return NewValidator(llvm.Toolchain(), fuser, t.TempDir(), 200*time.Millisecond)
}

func newTestPrompter(t *testing.T, mode string) *Prompter {
	t.Helper()
	p, err := NewPrompter(PromptContext{
		Target:         "zlib",
		Entry:          testEntry,
		ExpectReturn:   66,
		Mode:           mode,
		SystemHeaders:  []string{"stdio.h", "string.h"},
		LibraryHeaders: []string{"zlib.h"},
		APIs:           testGadgets(),
	})
	require.NoError(t, err)
	return p
}

func newTestScheduler() *schedule.Scheduler {
	return schedule.New(testGadgets(),
		schedule.WithCombinationLen(3),
		schedule.WithRand(rand.New(rand.NewSource(7))))
}

func testSettings(t *testing.T, mode string) Settings {
	t.Helper()
	out := t.TempDir()
	return Settings{
		Mode:               mode,
		Target:             "zlib",
		SeedDir:            filepath.Join(out, "seeds"),
		PairsDir:           filepath.Join(out, "seeds", "pairs"),
		MinimizedDir:       filepath.Join(out, "minimized"),
		MaxRounds:          10,
		ProgramsPerRound:   2,
		QuietRounds:        2,
		ConvergeRounds:     2,
		NewTripleThreshold: 1,
		RoundSuccessTarget: 1,
	}
}

