package minimize

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/cntg"
	"github.com/roach88/apifuzz/internal/testutil"
)

type mapMeasurer map[string]cntg.Measurement

func (m mapMeasurer) Measure(_ context.Context, paths []string) ([]cntg.Measurement, error) {
	out := make([]cntg.Measurement, len(paths))
	for i, p := range paths {
		out[i] = m[p]
		out[i].Path = p
	}
	return out, nil
}

func touch(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(paths[i], []byte(n), 0o644))
	}
	return paths
}

func TestByBranchCoverage_GreedyOrder(t *testing.T) {
	dir := t.TempDir()
	p := touch(t, dir, "id_000001.cc", "id_000002.cc", "id_000003.cc", "id_000004.cc")
	m := mapMeasurer{
		p[0]: {Coverage: cov("a")},
		p[1]: {Coverage: cov("a", "b", "c")},
		p[2]: {Coverage: cov("c", "d")},
		p[3]: {Err: errors.New("link error")},
	}

	res, err := ByBranchCoverage(context.Background(), m, p)
	require.NoError(t, err)

	assert.Equal(t, []string{p[1], p[2]}, res.Retained)
	assert.ElementsMatch(t, []string{p[0], p[3]}, res.Removed)
	assert.Equal(t, 4, res.Covered)
	assert.FileExists(t, p[1])
	assert.FileExists(t, p[2])
	assert.NoFileExists(t, p[0])
	assert.NoFileExists(t, p[3])
}

func TestByBranchCoverage_TieBreakByPath(t *testing.T) {
	dir := t.TempDir()
	p := touch(t, dir, "id_000002.cc", "id_000001.cc")
	m := mapMeasurer{
		p[0]: {Coverage: cov("x")},
		p[1]: {Coverage: cov("x")},
	}

	res, err := ByBranchCoverage(context.Background(), m, p, WithDryRun())
	require.NoError(t, err)

	assert.Equal(t, []string{p[1]}, res.Retained)
	assert.Equal(t, []string{p[0]}, res.Removed)
	assert.FileExists(t, p[0], "dry run keeps files")
}

func TestByBranchCoverage_PreservesUnion(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		dir := t.TempDir()
		n := 1 + rng.Intn(15)
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("id_%06d.cc", i)
		}
		paths := touch(t, dir, names...)

		m := mapMeasurer{}
		union := map[string]struct{}{}
		for _, p := range paths {
			var bs []string
			for k := rng.Intn(6); k > 0; k-- {
				b := fmt.Sprintf("b%d", rng.Intn(20))
				bs = append(bs, b)
				union[b] = struct{}{}
			}
			m[p] = cntg.Measurement{Coverage: cov(bs...)}
		}

		res, err := ByBranchCoverage(context.Background(), m, paths, WithDryRun())
		require.NoError(t, err)

		kept := map[string]struct{}{}
		for _, p := range res.Retained {
			for b := range m[p].Coverage.Branches {
				kept[b] = struct{}{}
			}
		}
		assert.Equal(t, union, kept, "round %d", round)
		assert.LessOrEqual(t, len(res.Retained), n)
		assert.Equal(t, n, len(res.Retained)+len(res.Removed))
		assert.Equal(t, len(union), res.Covered)
	}
}

func TestByBranchCoverage_WithCores(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, body := range []string{
		testutil.Covers(1, 2),
		testutil.Covers(1, 2, 3),
		testutil.Covers(2),
		"/* CRASH */",
		testutil.Covers(7),
	} {
		p := filepath.Join(dir, fmt.Sprintf("id_%06d.cc", i))
		src := fmt.Sprintf("int test_zlib_api_sequence() {\n    %s\n    return 66;\n}\n", body)
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
		paths = append(paths, p)
	}
	llvm := testutil.NewFakeLLVM(10)
	m := &cntg.Measurer{
		Toolchain: llvm.Toolchain(),
		Fuser: cntg.Fuser{
			Layout:         cntg.Layout{Root: t.TempDir()},
			Entry:          "test_zlib_api_sequence",
			LibraryHeaders: []string{"zlib.h"},
		},
	}

	res, err := ByBranchCoverage(context.Background(), m, paths)
	require.NoError(t, err)

	assert.Equal(t, []string{paths[1], paths[4]}, res.Retained)
	assert.Equal(t, 4, res.Covered)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type failingMeasurer struct{}

func (failingMeasurer) Measure(context.Context, []string) ([]cntg.Measurement, error) {
	return nil, &cntg.SetupError{What: "work directory", Path: "/nowhere"}
}

func TestByBranchCoverage_MeasureError(t *testing.T) {
	_, err := ByBranchCoverage(context.Background(), failingMeasurer{}, []string{"x"})

	assert.True(t, cntg.IsSetupError(err))
}

var _ Measurer = (*cntg.Measurer)(nil)

