package toolchain

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// CoverageFlags instrument a binary for source-based coverage.
var CoverageFlags = []string{
	"-g",
	"-fprofile-instr-generate",
	"-fcoverage-mapping",
	"-Wl,--no-as-needed",
	"-Wl,-ldl",
	"-Wl,-lm",
	"-Wno-unused-command-line-argument",
	"-ftrivial-auto-var-init=zero",
}

// Toolchain holds the tool names and library flags used for one target library.
type Toolchain struct {
	Runner   Runner
	CXX      string   // C++ compiler driver, e.g. "clang++"
	Profdata string   // profile merge tool, e.g. "llvm-profdata"
	Cov      string   // coverage report tool, e.g. "llvm-cov"
	Includes []string // -I directories
	Libs     []string // static libraries or -l flags linked into every binary
	Extra    []string // extra compile flags
}

// New returns a Toolchain with LLVM defaults for any unset tool name.
func New(r Runner, cxx, profdata, cov string) *Toolchain {
	if r == nil {
		r = ExecRunner{}
	}
	if cxx == "" {
		cxx = "clang++"
	}
	if profdata == "" {
		profdata = "llvm-profdata"
	}
	if cov == "" {
		cov = "llvm-cov"
	}
	return &Toolchain{Runner: r, CXX: cxx, Profdata: profdata, Cov: cov}
}

// IncludeTrace runs a syntax-only compile of header with include tracing.
// The trace is written by the compiler to stderr.
func (t *Toolchain) IncludeTrace(ctx context.Context, headerDir, header string) (Result, error) {
	return t.Runner.Run(ctx, Cmd{
		Name: t.CXX,
		Args: []string{"-fsyntax-only", "-H", "-I.", header},
		Dir:  headerDir,
	})
}

// Compile builds sources into an instrumented executable at out.
func (t *Toolchain) Compile(ctx context.Context, dir string, sources []string, out string) (Result, error) {
	args := make([]string, 0, len(CoverageFlags)+len(sources)+len(t.Includes)+len(t.Libs)+len(t.Extra)+2)
	args = append(args, CoverageFlags...)
	args = append(args, t.Extra...)
	for _, inc := range t.Includes {
		args = append(args, "-I"+inc)
	}
	args = append(args, sources...)
	args = append(args, t.Libs...)
	args = append(args, "-o", out)
	return t.Runner.Run(ctx, Cmd{Name: t.CXX, Args: args, Dir: dir})
}

// RunInstrumented executes binary with its raw profile directed to profraw.
func (t *Toolchain) RunInstrumented(ctx context.Context, binary, profraw string) (Result, error) {
	return t.Runner.Run(ctx, Cmd{
		Name: binary,
		Dir:  filepath.Dir(binary),
		Env:  []string{"LLVM_PROFILE_FILE=" + profraw},
	})
}

// MergeProfiles merges raw or indexed profiles into out.
func (t *Toolchain) MergeProfiles(ctx context.Context, out string, inputs ...string) error {
	args := append([]string{"merge", "-sparse"}, inputs...)
	args = append(args, "-o", out)
	res, err := t.Runner.Run(ctx, Cmd{Name: t.Profdata, Args: args})
	if err != nil {
		return fmt.Errorf("merge profiles: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("merge profiles: %s exited %d: %s", t.Profdata, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// ExportLCOV exports coverage of binaries under profdata in LCOV text form.
//
// Sources living next to a binary (the synthesized driver and the fused
// members) are excluded so only library branches are reported.
func (t *Toolchain) ExportLCOV(ctx context.Context, profdata string, binaries []string) ([]byte, error) {
	if len(binaries) == 0 {
		return nil, fmt.Errorf("export lcov: no binaries")
	}
	args := []string{"export", "-format=lcov", "-instr-profile=" + profdata, IgnoreFlag(binaries)}
	args = append(args, objectArgs(binaries)...)
	res, err := t.Runner.Run(ctx, Cmd{Name: t.Cov, Args: args})
	if err != nil {
		return nil, fmt.Errorf("export lcov: %w", err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("export lcov: %s exited %d: %s", t.Cov, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return res.Stdout, nil
}

// Report renders the textual coverage summary table.
func (t *Toolchain) Report(ctx context.Context, profdata string, binaries []string) ([]byte, error) {
	if len(binaries) == 0 {
		return nil, fmt.Errorf("coverage report: no binaries")
	}
	args := []string{"report", "-instr-profile=" + profdata, IgnoreFlag(binaries)}
	args = append(args, objectArgs(binaries)...)
	res, err := t.Runner.Run(ctx, Cmd{Name: t.Cov, Args: args})
	if err != nil {
		return nil, fmt.Errorf("coverage report: %w", err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("coverage report: %s exited %d: %s", t.Cov, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return res.Stdout, nil
}

// objectArgs formats binaries for llvm-cov: the first positionally, the rest via -object.
func objectArgs(binaries []string) []string {
	args := []string{binaries[0]}
	for _, b := range binaries[1:] {
		args = append(args, "-object", b)
	}
	return args
}

// IgnoreFlag returns the llvm-cov flag excluding every source file under the
// directories holding binaries.
func IgnoreFlag(binaries []string) string {
	seen := make(map[string]bool, len(binaries))
	dirs := make([]string, 0, len(binaries))
	for _, b := range binaries {
		dir := filepath.Dir(b)
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, regexp.QuoteMeta(dir))
	}
	return "-ignore-filename-regex=^(" + strings.Join(dirs, "|") + ")/"
}
