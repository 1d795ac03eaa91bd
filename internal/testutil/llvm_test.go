package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/toolchain"
)

func TestFakeLLVM_ExportReportsLocalSourcesUnlessIgnored(t *testing.T) {
	dir := t.TempDir()
	core := filepath.Join(dir, "core")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "member_00.cc"), []byte(Covers(1)), 0o644))
	profile := filepath.Join(dir, "merged.profdata")
	require.NoError(t, os.WriteFile(profile, []byte("1"), 0o644))

	llvm := NewFakeLLVM(4)
	ctx := context.Background()

	res, err := llvm.Run(ctx, toolchain.Cmd{Name: "llvm-cov", Args: []string{"export", "-format=lcov", "-instr-profile=" + profile, core}})
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), "SF:"+filepath.Join(dir, "member_00.cc"))

	out, err := llvm.Toolchain().ExportLCOV(ctx, profile, []string{core})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "member_00.cc")

	cov, err := toolchain.ParseLCOV(out)
	require.NoError(t, err)
	assert.Equal(t, 4, cov.BranchesFound)
	assert.Equal(t, 1, cov.BranchesHit)
}
