package cntg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Member is one program placed in a core.
type Member struct {
	Index int    `json:"index"` // batch-local index
	Seed  string `json:"seed"`  // original input path
	Copy  string `json:"copy"`  // numbered copy under seeds/
	File  string `json:"file"`  // renamed source inside the core directory
	Entry string `json:"entry"` // renamed entry function
}

// Core is one fused batch.
type Core struct {
	Index   int      `json:"index"`
	Dir     string   `json:"dir"`
	Members []Member `json:"members"`
	Binary  string   `json:"binary"`
}

// Sources returns the source files of the core relative to its directory.
func (c Core) Sources() []string {
	out := make([]string, 0, len(c.Members)+1)
	out = append(out, mainFile)
	for _, m := range c.Members {
		out = append(out, filepath.Base(m.File))
	}
	return out
}

// Fuser turns program files into core directories.
type Fuser struct {
	Layout    Layout
	BatchSize int
	// Entry is the function every program defines, e.g.
	// "test_zlib_api_sequence".
	Entry string
	// SystemHeaders are included as <h>, LibraryHeaders as "h", at the top
	// of the driver and of every member.
	SystemHeaders  []string
	LibraryHeaders []string
	// ExpectReturn, when non-zero, makes the driver exit 1 if any entry
	// returns a different value.
	ExpectReturn int
}

// Fuse copies seeds into the work directory, partitions them into batches of
// BatchSize in input order and writes one core directory per batch.
//
// Previous seeds, cores and profiles under the layout root are removed.
func (f *Fuser) Fuse(seeds []string) ([]Core, error) {
	if f.BatchSize <= 0 {
		return nil, fmt.Errorf("fuse: batch size must be positive, got %d", f.BatchSize)
	}
	if f.Entry == "" {
		return nil, fmt.Errorf("fuse: entry function name is empty")
	}
	if err := f.reset(); err != nil {
		return nil, err
	}

	copies := make([]string, len(seeds))
	for n, seed := range seeds {
		dst := f.Layout.SeedCopy(n)
		if err := copyFile(seed, dst); err != nil {
			return nil, fmt.Errorf("fuse: copy %s: %w", seed, err)
		}
		copies[n] = dst
	}

	entryRe, err := entryPattern(f.Entry)
	if err != nil {
		return nil, err
	}

	var cores []Core
	for start := 0; start < len(copies); start += f.BatchSize {
		end := min(start+f.BatchSize, len(copies))
		core, err := f.writeCore(len(cores), seeds[start:end], copies[start:end], entryRe)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}

	slog.Info("fused programs",
		"programs", len(seeds),
		"cores", len(cores),
		"batch_size", f.BatchSize,
		"root", f.Layout.Root)
	return cores, nil
}

func (f *Fuser) reset() error {
	for _, dir := range []string{f.Layout.SeedsDir(), f.Layout.CoresDir(), f.Layout.ProfilesDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("fuse: clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fuse: create %s: %w", dir, err)
		}
	}
	return nil
}

func (f *Fuser) writeCore(index int, seeds, copies []string, entryRe *regexp.Regexp) (Core, error) {
	dir := f.Layout.CoreDir(index)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Core{}, fmt.Errorf("fuse: create %s: %w", dir, err)
	}
	core := Core{Index: index, Dir: dir, Binary: filepath.Join(dir, binaryName)}

	for j, src := range copies {
		data, err := os.ReadFile(src)
		if err != nil {
			return Core{}, fmt.Errorf("fuse: read %s: %w", src, err)
		}
		entry := fmt.Sprintf("%s_%d", f.Entry, j)
		renamed, ok := RenameEntry(string(data), entryRe, entry)
		if !ok {
			slog.Warn("entry function not found in program",
				"program", seeds[j],
				"entry", f.Entry)
		}
		m := Member{
			Index: j,
			Seed:  seeds[j],
			Copy:  src,
			File:  filepath.Join(dir, memberFile(j)),
			Entry: entry,
		}
		if err := os.WriteFile(m.File, []byte(f.prologue()+renamed), 0o644); err != nil {
			return Core{}, fmt.Errorf("fuse: write %s: %w", m.File, err)
		}
		core.Members = append(core.Members, m)
	}

	if err := os.WriteFile(filepath.Join(dir, mainFile), []byte(f.Driver(core)), 0o644); err != nil {
		return Core{}, fmt.Errorf("fuse: write driver: %w", err)
	}
	return core, nil
}

// entryPattern matches the entry name where it is followed by "(".
func entryPattern(entry string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(entry) + `\b(\s*\()`)
	if err != nil {
		return nil, fmt.Errorf("fuse: entry pattern: %w", err)
	}
	return re, nil
}

// RenameEntry replaces every occurrence of the entry function (declaration,
// definition or call) with renamed. It reports whether any was found.
func RenameEntry(source string, entryRe *regexp.Regexp, renamed string) (string, bool) {
	if !entryRe.MatchString(source) {
		return source, false
	}
	return entryRe.ReplaceAllString(source, renamed+"${1}"), true
}

func (f *Fuser) prologue() string {
	var b strings.Builder
	for _, h := range f.SystemHeaders {
		fmt.Fprintf(&b, "#include <%s>\n", h)
	}
	for _, h := range f.LibraryHeaders {
		fmt.Fprintf(&b, "#include \"%s\"\n", h)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// Driver renders the main.cc of core.
func (f *Fuser) Driver(core Core) string {
	var b strings.Builder
	name := coreName(core.Index)
	fmt.Fprintf(&b, "// Fused driver %s: %d member(s).\n", name, len(core.Members))
	if !slices.Contains(f.SystemHeaders, "stdio.h") {
		b.WriteString("#include <stdio.h>\n")
	}
	b.WriteString(f.prologue())
	if len(f.SystemHeaders)+len(f.LibraryHeaders) == 0 {
		b.WriteString("\n")
	}

	for _, m := range core.Members {
		fmt.Fprintf(&b, "int %s();\n", m.Entry)
	}
	b.WriteString("\nint main(void) {\n")
	b.WriteString("    int failed = 0;\n")
	for _, m := range core.Members {
		fmt.Fprintf(&b, "    printf(\"[cntg] %s member %d/%d\\n\");\n", name, m.Index+1, len(core.Members))
		b.WriteString("    fflush(stdout);\n")
		if f.ExpectReturn != 0 {
			fmt.Fprintf(&b, "    if (%s() != %d) failed = 1;\n", m.Entry, f.ExpectReturn)
		} else {
			fmt.Fprintf(&b, "    %s();\n", m.Entry)
		}
	}
	b.WriteString("    return failed;\n}\n")
	return b.String()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
