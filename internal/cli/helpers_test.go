package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apifuzz/internal/testutil"
)

const testEntry = "test_zlib_api_sequence"

// testProject is a throwaway project directory with a header, a gadget
// catalog and a YAML config pointing at them.
type testProject struct {
	dir    string
	config string
	out    string
	llvm   *testutil.FakeLLVM
}

func (p *testProject) seedDir() string { return filepath.Join(p.out, "seeds") }

func newTestProject(t *testing.T, mode string, extra ...string) *testProject {
	t.Helper()
	dir := t.TempDir()

	include := filepath.Join(dir, "include")
	require.NoError(t, os.MkdirAll(include, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(include, "zlib.h"), []byte("#pragma once\n"), 0o644))

	catalog := filepath.Join(dir, "catalog.yaml")
	var cb strings.Builder
	cb.WriteString("library: zlib\ngadgets:\n")
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		fmt.Fprintf(&cb, "  - name: %s\n", name)
	}
	require.NoError(t, os.WriteFile(catalog, []byte(cb.String()), 0o644))

	out := filepath.Join(dir, "out")
	cfg := fmt.Sprintf(`target: zlib
header_dir: %s
output_dir: %s
catalog: %s
mode: %s
cntg:
  batch_size: 2
  run_timeout: 1s
fuzz:
  max_rounds: 4
  programs_per_round: 1
  quiet_rounds: 2
`, include, out, catalog, mode)
	for _, e := range extra {
		cfg += e + "\n"
	}
	config := filepath.Join(dir, "apifuzz.yaml")
	require.NoError(t, os.WriteFile(config, []byte(cfg), 0o644))

	return &testProject{dir: dir, config: config, out: out, llvm: testutil.NewFakeLLVM(10)}
}

// opts returns root options bound to the project and its fake toolchain.
func (p *testProject) opts(format string) *RootOptions {
	return &RootOptions{
		Format:    format,
		Config:    p.config,
		Runner:    p.llvm,
		LogWriter: io.Discard,
	}
}

// writeSeeds writes one program per body into the project seed directory.
func (p *testProject) writeSeeds(t *testing.T, bodies ...string) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(p.seedDir(), 0o755))
	paths := make([]string, len(bodies))
	for i, body := range bodies {
		paths[i] = filepath.Join(p.seedDir(), fmt.Sprintf("id_%06d.cc", i+1))
		require.NoError(t, os.WriteFile(paths[i], []byte(program(body)), 0o644))
	}
	return paths
}

// program renders an entry function around body.
func program(body string) string {
	return fmt.Sprintf("int %s() {\n    %s\n    return 66;\n}\n", testEntry, body)
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
