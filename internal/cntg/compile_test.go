package cntg

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/testutil"
	"github.com/roach88/apifuzz/internal/toolchain"
)

func TestCompileAll_FailureDoesNotAbortSiblings(t *testing.T) {
	seeds := writePrograms(t, "a();", "b();", "/* BROKEN_SYNTAX */", "c();", "d();", "/* BROKEN_LINK */")
	cores, err := newFuser(t.TempDir(), 2).Fuse(seeds)
	require.NoError(t, err)
	llvm := testutil.NewFakeLLVM(10)

	err = (&Compiler{Toolchain: llvm.Toolchain(), Workers: 2}).CompileAll(context.Background(), cores)

	ce, ok := AsCompileErrors(err)
	require.True(t, ok, "want *CompileErrors, got %v", err)
	require.Len(t, ce.Failures, 2)
	assert.Equal(t, 1, ce.Failures[0].Core)
	assert.False(t, ce.Failures[0].LinkFailure())
	assert.Equal(t, 2, ce.Failures[1].Core)
	assert.True(t, ce.Failures[1].LinkFailure())
	assert.Contains(t, err.Error(), "core_0001")

	compiled := CompiledCores(cores)
	require.Len(t, compiled, 1)
	assert.Equal(t, 0, compiled[0].Index)
}

func TestCompileAll_Succeeds(t *testing.T) {
	seeds := writePrograms(t, "a();", "b();", "c();")
	cores, err := newFuser(t.TempDir(), 1).Fuse(seeds)
	require.NoError(t, err)
	llvm := testutil.NewFakeLLVM(10)

	require.NoError(t, (&Compiler{Toolchain: llvm.Toolchain()}).CompileAll(context.Background(), cores))

	assert.Len(t, CompiledCores(cores), 3)
	assert.Len(t, llvm.Calls(), 3)
}

func TestCompileAll_BoundedWorkers(t *testing.T) {
	var running, peak atomic.Int32
	fake := &testutil.FakeRunner{Handler: func(ctx context.Context, _ toolchain.Cmd) (toolchain.Result, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return toolchain.Result{}, nil
	}}
	cores := make([]Core, 12)
	for i := range cores {
		cores[i] = Core{Index: i, Dir: t.TempDir()}
	}

	err := (&Compiler{Toolchain: toolchain.New(fake, "", "", ""), Workers: 3}).CompileAll(context.Background(), cores)

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Len(t, fake.Calls(), 12)
}

func TestCompileAll_StartErrorIsAFailure(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(context.Context, toolchain.Cmd) (toolchain.Result, error) {
		return toolchain.Result{ExitCode: -1}, assert.AnError
	}}
	cores := []Core{{Index: 0, Dir: t.TempDir()}, {Index: 1, Dir: t.TempDir()}}

	err := (&Compiler{Toolchain: toolchain.New(fake, "", "", "")}).CompileAll(context.Background(), cores)

	ce, ok := AsCompileErrors(err)
	require.True(t, ok)
	assert.Len(t, ce.Failures, 2)
	assert.ErrorIs(t, ce.Failures[0].Err, assert.AnError)
}

func TestCompileAll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &testutil.FakeRunner{Handler: func(ctx context.Context, _ toolchain.Cmd) (toolchain.Result, error) {
		return toolchain.Result{ExitCode: -1}, ctx.Err()
	}}

	err := (&Compiler{Toolchain: toolchain.New(fake, "", "", "")}).CompileAll(ctx, []Core{{Dir: t.TempDir()}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverCores(t *testing.T) {
	root := t.TempDir()
	seeds := writePrograms(t, "a();", "b();", "c();")
	fused, err := newFuser(root, 2).Fuse(seeds)
	require.NoError(t, err)

	found, err := DiscoverCores(Layout{Root: root}, testEntry)
	require.NoError(t, err)

	require.Len(t, found, 2)
	for i := range found {
		assert.Equal(t, fused[i].Dir, found[i].Dir)
		assert.Equal(t, fused[i].Sources(), found[i].Sources())
		assert.Equal(t, fused[i].Members[0].Entry, found[i].Members[0].Entry)
	}
}

func TestDiscoverCores_Missing(t *testing.T) {
	_, err := DiscoverCores(Layout{Root: t.TempDir()}, testEntry)

	require.Error(t, err)
	assert.True(t, IsSetupError(err))
	assert.Contains(t, err.Error(), "run fuse first")
}
