package cntg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/testutil"
)

func TestMeasure_PerProgram(t *testing.T) {
	paths := writePrograms(t,
		testutil.Covers(1, 2),
		"/* BROKEN_LINK */",
		testutil.Covers(2, 3, 4),
		"/* CRASH */",
	)
	llvm := testutil.NewFakeLLVM(10)
	m := &Measurer{Toolchain: llvm.Toolchain(), Fuser: *newFuser(t.TempDir(), 8)}

	got, err := m.Measure(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.NoError(t, got[0].Err)
	assert.Equal(t, 2, got[0].Coverage.BranchesHit)
	assert.InDelta(t, 20.0, got[0].Coverage.Percent(), 1e-9)

	var cf *CompileFailure
	require.ErrorAs(t, got[1].Err, &cf)
	assert.True(t, cf.LinkFailure())

	assert.Equal(t, 3, got[2].Coverage.BranchesHit)
	assert.Contains(t, got[2].Coverage.Branches, "/lib/src/lib.c:4:0:0")

	assert.ErrorIs(t, got[3].Err, ErrRunFailed)
	for i, p := range paths {
		assert.Equal(t, p, got[i].Path)
	}
}

func TestMeasure_Empty(t *testing.T) {
	m := &Measurer{Toolchain: testutil.NewFakeLLVM(1).Toolchain(), Fuser: *newFuser(t.TempDir(), 1)}

	got, err := m.Measure(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMeasure_ProgramSourcesNotCounted(t *testing.T) {
	paths := writePrograms(t,
		"if (deflateInit(&s, 1) != Z_OK) return 1;\n    "+testutil.Covers(5),
		"while (inflate(&s, 0) == Z_OK) {}\n    "+testutil.Covers(5),
	)
	llvm := testutil.NewFakeLLVM(10)
	m := &Measurer{Toolchain: llvm.Toolchain(), Fuser: *newFuser(t.TempDir(), 8)}

	got, err := m.Measure(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, pm := range got {
		require.NoError(t, pm.Err)
		assert.Equal(t, 10, pm.Coverage.BranchesFound, "only library branches are found")
		assert.Equal(t, 1, pm.Coverage.BranchesHit)
	}
	assert.Equal(t, got[0].Coverage.Branches, got[1].Coverage.Branches)
}
