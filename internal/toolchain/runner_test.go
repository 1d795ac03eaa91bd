package toolchain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_CapturesOutput(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err 1>&2"},
	})
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestExecRunner_NonZeroExitIsNotError(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "exit 66"}})
	require.NoError(t, err)

	assert.Equal(t, 66, res.ExitCode)
	assert.False(t, res.Success())
}

func TestExecRunner_Env(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", `printf %s "$LLVM_PROFILE_FILE"`},
		Env:  []string{"LLVM_PROFILE_FILE=/tmp/p.profraw"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/p.profraw", string(res.Stdout))
}

func TestExecRunner_Dir(t *testing.T) {
	dir := t.TempDir()
	res, err := ExecRunner{}.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "pwd -P"}, Dir: dir})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Stdout)
}

func TestExecRunner_MissingTool(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Cmd{Name: "definitely-not-a-real-tool-xyz"})
	assert.Error(t, err)
}

func TestExecRunner_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := ExecRunner{}.Run(ctx, Cmd{Name: "sh", Args: []string{"-c", "sleep 5"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
}

func TestCmd_String(t *testing.T) {
	assert.Equal(t, "clang++ -c a.cc", Cmd{Name: "clang++", Args: []string{"-c", "a.cc"}}.String())
	assert.Equal(t, "./core", Cmd{Name: "./core"}.String())
}
