package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// Source markers understood by FakeLLVM.
const (
	MarkCovers      = "// covers:"
	MarkSyntaxError = "BROKEN_SYNTAX"
	MarkLinkError   = "BROKEN_LINK"
	MarkCrash       = "CRASH"
	MarkHang        = "HANG"
)

// FakeLLVM simulates clang++, llvm-profdata and llvm-cov on the file system.
//
// Programs declare the branches they hit with a "// covers: 1 2 3" line.
// A compiled binary, when run, hits the branches of every .cc file in its
// directory and writes them to LLVM_PROFILE_FILE, one per line. Merging
// profiles takes the union of lines; exporting LCOV reports them as BRDA
// records of one library file, with BRF fixed to Universe.
//
// Every .cc file next to an exported binary also gets a record with one
// taken branch of its own, unless llvm-cov was told to ignore it.
type FakeLLVM struct {
	*FakeRunner
	Universe int
}

// NewFakeLLVM creates a FakeLLVM whose coverage reports universe branches.
func NewFakeLLVM(universe int) *FakeLLVM {
	f := &FakeLLVM{Universe: universe}
	f.FakeRunner = &FakeRunner{Handler: f.handle}
	return f
}

// Toolchain returns a toolchain wired to f with default tool names.
func (f *FakeLLVM) Toolchain() *toolchain.Toolchain {
	return toolchain.New(f, "", "", "")
}

// Covers returns the source line declaring the given branches.
func Covers(branches ...int) string {
	parts := make([]string, len(branches))
	for i, b := range branches {
		parts[i] = strconv.Itoa(b)
	}
	return MarkCovers + " " + strings.Join(parts, " ")
}

func (f *FakeLLVM) handle(ctx context.Context, cmd toolchain.Cmd) (toolchain.Result, error) {
	switch cmd.Name {
	case "clang++":
		return f.compile(cmd)
	case "llvm-profdata":
		return f.merge(cmd)
	case "llvm-cov":
		return f.cov(cmd)
	default:
		return f.run(ctx, cmd)
	}
}

func (f *FakeLLVM) compile(cmd toolchain.Cmd) (toolchain.Result, error) {
	for _, a := range cmd.Args {
		if a == "-fsyntax-only" {
			return toolchain.Result{}, nil
		}
	}
	for _, a := range cmd.Args {
		if !strings.HasSuffix(a, ".cc") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cmd.Dir, a))
		if err != nil {
			return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
		}
		src := string(data)
		if strings.Contains(src, MarkSyntaxError) {
			return toolchain.Result{ExitCode: 1, Stderr: []byte(a + ":3:5: error: expected ';' after expression")}, nil
		}
		if strings.Contains(src, MarkLinkError) {
			return toolchain.Result{ExitCode: 1, Stderr: []byte("undefined reference to `missing_api'\nclang++: error: linker command failed")}, nil
		}
	}
	out := OutputPath(cmd)
	if !filepath.IsAbs(out) {
		out = filepath.Join(cmd.Dir, out)
	}
	if err := os.WriteFile(out, []byte("fake binary\n"), 0o755); err != nil {
		return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	return toolchain.Result{}, nil
}

func (f *FakeLLVM) run(ctx context.Context, cmd toolchain.Cmd) (toolchain.Result, error) {
	dir := filepath.Dir(cmd.Name)
	sources, _ := filepath.Glob(filepath.Join(dir, "*.cc"))
	branches := map[string]bool{}
	for _, s := range sources {
		data, err := os.ReadFile(s)
		if err != nil {
			continue
		}
		src := string(data)
		if strings.Contains(src, MarkHang) {
			<-ctx.Done()
			return toolchain.Result{ExitCode: -1}, ctx.Err()
		}
		if strings.Contains(src, MarkCrash) {
			return toolchain.Result{ExitCode: 1, Stderr: []byte("Segmentation fault")}, nil
		}
		for _, line := range strings.Split(src, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, MarkCovers) {
				continue
			}
			for _, b := range strings.Fields(strings.TrimPrefix(line, MarkCovers)) {
				branches[b] = true
			}
		}
	}
	if p := EnvValue(cmd, "LLVM_PROFILE_FILE"); p != "" {
		if err := writeLines(p, branches); err != nil {
			return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
		}
	}
	return toolchain.Result{Stdout: []byte("[cntg] ok\n")}, nil
}

func (f *FakeLLVM) merge(cmd toolchain.Cmd) (toolchain.Result, error) {
	out := OutputPath(cmd)
	union := map[string]bool{}
	for i, a := range cmd.Args {
		if i == 0 || strings.HasPrefix(a, "-") || (i > 0 && cmd.Args[i-1] == "-o") {
			continue
		}
		data, err := os.ReadFile(a)
		if err != nil {
			return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
		}
		for _, line := range strings.Fields(string(data)) {
			union[line] = true
		}
	}
	if err := writeLines(out, union); err != nil {
		return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	return toolchain.Result{}, nil
}

func (f *FakeLLVM) cov(cmd toolchain.Cmd) (toolchain.Result, error) {
	var (
		profile string
		ignore  *regexp.Regexp
		objects []string
	)
	for _, a := range cmd.Args[1:] {
		switch {
		case strings.HasPrefix(a, "-instr-profile="):
			profile = strings.TrimPrefix(a, "-instr-profile=")
		case strings.HasPrefix(a, "-ignore-filename-regex="):
			re, err := regexp.Compile(strings.TrimPrefix(a, "-ignore-filename-regex="))
			if err != nil {
				return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
			}
			ignore = re
		case !strings.HasPrefix(a, "-"):
			objects = append(objects, a)
		}
	}
	data, err := os.ReadFile(profile)
	if err != nil {
		return toolchain.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}
	hit := strings.Fields(string(data))
	local := f.localSources(objects, ignore)

	switch cmd.Args[0] {
	case "export":
		var b strings.Builder
		b.WriteString("SF:/lib/src/lib.c\n")
		for _, h := range hit {
			fmt.Fprintf(&b, "BRDA:%s,0,0,1\n", h)
		}
		fmt.Fprintf(&b, "BRF:%d\nBRH:%d\nend_of_record\n", f.Universe, len(hit))
		for _, src := range local {
			fmt.Fprintf(&b, "SF:%s\nBRDA:1,0,0,1\nBRF:1\nBRH:1\nend_of_record\n", src)
		}
		return toolchain.Result{Stdout: []byte(b.String())}, nil
	case "report":
		total := f.Universe + len(local)
		out := fmt.Sprintf("Filename Branches Missed\nTOTAL %d %d\n", total, f.Universe-len(hit))
		return toolchain.Result{Stdout: []byte(out)}, nil
	}
	return toolchain.Result{ExitCode: 1, Stderr: []byte("unknown llvm-cov subcommand")}, nil
}

// localSources lists the sources compiled into objects that ignore does
// not exclude.
func (f *FakeLLVM) localSources(objects []string, ignore *regexp.Regexp) []string {
	var out []string
	seen := map[string]bool{}
	for _, obj := range objects {
		dir, err := filepath.Abs(filepath.Dir(obj))
		if err != nil || seen[dir] {
			continue
		}
		seen[dir] = true
		sources, _ := filepath.Glob(filepath.Join(dir, "*.cc"))
		for _, src := range sources {
			if ignore != nil && ignore.MatchString(src) {
				continue
			}
			out = append(out, src)
		}
	}
	return out
}

func writeLines(path string, set map[string]bool) error {
	lines := make([]string, 0, len(set))
	for l := range set {
		lines = append(lines, l)
	}
	sort.Strings(lines)
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
