package toolchain_test

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/testutil"
	"github.com/roach88/apifuzz/internal/toolchain"
)

func TestNew_Defaults(t *testing.T) {
	tc := toolchain.New(nil, "", "", "")

	assert.Equal(t, "clang++", tc.CXX)
	assert.Equal(t, "llvm-profdata", tc.Profdata)
	assert.Equal(t, "llvm-cov", tc.Cov)
	assert.IsType(t, toolchain.ExecRunner{}, tc.Runner)
}

func TestCompile_ArgumentOrder(t *testing.T) {
	fake := &testutil.FakeRunner{}
	tc := toolchain.New(fake, "clang++-18", "", "")
	tc.Includes = []string{"/lib/include"}
	tc.Libs = []string{"/lib/libz.a"}

	_, err := tc.Compile(context.Background(), "/w/core_0000", []string{"main.cc", "member_00.cc"}, "core")
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	cmd := calls[0]
	assert.Equal(t, "clang++-18", cmd.Name)
	assert.Equal(t, "/w/core_0000", cmd.Dir)
	assert.Equal(t, "core", testutil.OutputPath(cmd))
	assert.Subset(t, cmd.Args, toolchain.CoverageFlags)
	assert.Contains(t, cmd.Args, "-I/lib/include")

	idx := func(s string) int {
		for i, a := range cmd.Args {
			if a == s {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("main.cc"), idx("/lib/libz.a"), "libraries follow sources")
}

func TestIncludeTrace(t *testing.T) {
	fake := &testutil.FakeRunner{}
	tc := toolchain.New(fake, "", "", "")

	_, err := tc.IncludeTrace(context.Background(), "/h", "b.h")
	require.NoError(t, err)

	cmd := fake.Calls()[0]
	assert.Equal(t, []string{"-fsyntax-only", "-H", "-I.", "b.h"}, cmd.Args)
	assert.Equal(t, "/h", cmd.Dir)
}

func TestRunInstrumented_SetsProfileFile(t *testing.T) {
	fake := &testutil.FakeRunner{}
	tc := toolchain.New(fake, "", "", "")

	_, err := tc.RunInstrumented(context.Background(), "/w/core_0001/core", "/w/prof/1.profraw")
	require.NoError(t, err)

	cmd := fake.Calls()[0]
	assert.Equal(t, "/w/prof/1.profraw", testutil.EnvValue(cmd, "LLVM_PROFILE_FILE"))
	assert.Equal(t, "/w/core_0001", cmd.Dir)
}

func TestMergeProfiles(t *testing.T) {
	fake := &testutil.FakeRunner{}
	tc := toolchain.New(fake, "", "", "")

	require.NoError(t, tc.MergeProfiles(context.Background(), "out.profdata", "a.profraw", "b.profraw"))
	assert.Equal(t, []string{"merge", "-sparse", "a.profraw", "b.profraw", "-o", "out.profdata"}, fake.Calls()[0].Args)
}

func TestMergeProfiles_ToolFailure(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(context.Context, toolchain.Cmd) (toolchain.Result, error) {
		return toolchain.Result{ExitCode: 1, Stderr: []byte("bad profile\n")}, nil
	}}
	tc := toolchain.New(fake, "", "", "")

	err := tc.MergeProfiles(context.Background(), "out.profdata", "a.profraw")
	assert.ErrorContains(t, err, "bad profile")
}

func TestExportLCOV_ObjectArgs(t *testing.T) {
	fake := &testutil.FakeRunner{Handler: func(context.Context, toolchain.Cmd) (toolchain.Result, error) {
		return toolchain.Result{Stdout: []byte("SF:x\nend_of_record\n")}, nil
	}}
	tc := toolchain.New(fake, "", "", "")

	bins := []string{"/w/core_0000/core", "/w/core_0001/core", "/w/core_0002/core"}
	out, err := tc.ExportLCOV(context.Background(), "m.profdata", bins)
	require.NoError(t, err)
	assert.Contains(t, string(out), "SF:x")
	assert.Equal(t,
		[]string{"export", "-format=lcov", "-instr-profile=m.profdata", toolchain.IgnoreFlag(bins),
			bins[0], "-object", bins[1], "-object", bins[2]},
		fake.Calls()[0].Args)
}

func TestIgnoreFlag_ExcludesCoreDirectories(t *testing.T) {
	flag := toolchain.IgnoreFlag([]string{"/w/cores/core_0000/core", "/w/cores/core_0000/core", "/w/cores/core_0001/core"})
	assert.Equal(t, `-ignore-filename-regex=^(/w/cores/core_0000|/w/cores/core_0001)/`, flag)

	re := regexp.MustCompile(strings.TrimPrefix(flag, "-ignore-filename-regex="))
	assert.True(t, re.MatchString("/w/cores/core_0001/member_00.cc"))
	assert.True(t, re.MatchString("/w/cores/core_0000/main.cc"))
	assert.False(t, re.MatchString("/lib/src/inflate.c"))
	assert.False(t, re.MatchString("/w/cores/core_00001/member_00.cc"))
}

func TestReport_IgnoresCoreSources(t *testing.T) {
	fake := &testutil.FakeRunner{}
	tc := toolchain.New(fake, "", "", "")

	_, err := tc.Report(context.Background(), "m.profdata", []string{"/w/core_0000/core"})
	require.NoError(t, err)
	assert.Contains(t, fake.Calls()[0].Args, "-ignore-filename-regex=^(/w/core_0000)/")
}

func TestExportLCOV_NoBinaries(t *testing.T) {
	tc := toolchain.New(&testutil.FakeRunner{}, "", "", "")
	_, err := tc.ExportLCOV(context.Background(), "m.profdata", nil)
	assert.Error(t, err)

	_, err = tc.Report(context.Background(), "m.profdata", nil)
	assert.Error(t, err)
}
