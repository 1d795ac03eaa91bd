package header

import (
	"bufio"
	"bytes"
	"path"
	"path/filepath"
	"strings"
)

// InvalidName marks a tree whose include trace could not be obtained.
const InvalidName = "<invalid>"

// Node is one header in an include tree.
//
// Each node owns its children. A header reached twice appears as two
// separate nodes with the same name; children keep the order in which the
// compiler reported them.
type Node struct {
	Name     string  `json:"name"`
	Children []*Node `json:"children,omitempty"`
	// SystemIncludes lists absolute paths of headers outside the library
	// directory that this header includes directly.
	SystemIncludes []string `json:"system_includes,omitempty"`
}

// NewInvalid returns the sentinel tree for a header whose trace failed.
func NewInvalid() *Node {
	return &Node{Name: InvalidName}
}

// Invalid reports whether n is the failed-extraction sentinel.
func (n *Node) Invalid() bool {
	return n == nil || n.Name == InvalidName
}

// Walk visits n and its descendants in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// traceEntry is one accepted line of an include trace.
type traceEntry struct {
	depth  int
	name   string
	system bool
}

// ParseTrace builds the include tree of root from clang -H output.
//
// Trace lines have the form "<dots> <path>" where the dot count is the
// 1-based include depth. Paths inside headerDir become library nodes named
// relative to headerDir. Absolute paths outside it are system headers: they
// are recorded on their including library node and the headers they include
// in turn are skipped. Lines that are not trace lines are ignored.
func ParseTrace(trace []byte, headerDir, root string) *Node {
	entries := scanTrace(trace, headerDir)
	tree := &Node{Name: normalizeName(root)}
	attach(tree, entries, 1)
	return tree
}

func scanTrace(trace []byte, headerDir string) []traceEntry {
	var (
		entries []traceEntry
		skipAt  int // entries deeper than this are skipped; 0 = none
	)
	sc := bufio.NewScanner(bytes.NewReader(trace))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		depth, p, ok := splitTraceLine(sc.Text())
		if !ok {
			continue
		}
		if skipAt > 0 {
			if depth > skipAt {
				continue
			}
			skipAt = 0
		}

		name, inLib := libraryName(p, headerDir)
		switch {
		case inLib && isHeaderFile(name):
			entries = append(entries, traceEntry{depth: depth, name: name})
		case !inLib && filepath.IsAbs(p):
			entries = append(entries, traceEntry{depth: depth, name: filepath.ToSlash(filepath.Clean(p)), system: true})
			skipAt = depth
		default:
			skipAt = depth
		}
	}
	return entries
}

// splitTraceLine parses "... path" into (3, "path").
func splitTraceLine(line string) (int, string, bool) {
	depth := 0
	for depth < len(line) && line[depth] == '.' {
		depth++
	}
	if depth == 0 || depth >= len(line) || line[depth] != ' ' {
		return 0, "", false
	}
	p := strings.TrimSpace(line[depth:])
	if p == "" {
		return 0, "", false
	}
	return depth, p, true
}

// libraryName returns p relative to headerDir and whether p lies inside it.
// Relative trace paths are resolved against headerDir, which is the
// compiler's working directory.
func libraryName(p, headerDir string) (string, bool) {
	if !filepath.IsAbs(p) {
		rel := normalizeName(p)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return "", false
		}
		return rel, true
	}
	dir, err := filepath.Abs(headerDir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(dir, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return normalizeName(rel), true
}

func normalizeName(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "./")
}

func isHeaderFile(name string) bool {
	switch path.Ext(name) {
	case ".h", ".hpp", ".hxx":
		return true
	}
	return false
}

// attach splits entries into groups, each starting at an entry of the given
// depth, and hangs one subtree per group under parent. A group's remaining
// entries are that subtree's descendants, one level deeper.
func attach(parent *Node, entries []traceEntry, depth int) {
	for _, group := range groupAt(entries, depth) {
		head := group[0]
		if head.system {
			parent.SystemIncludes = append(parent.SystemIncludes, head.name)
			continue
		}
		child := &Node{Name: head.name}
		attach(child, group[1:], depth+1)
		parent.Children = append(parent.Children, child)
	}
}

func groupAt(entries []traceEntry, depth int) [][]traceEntry {
	var (
		groups  [][]traceEntry
		current []traceEntry
	)
	for _, e := range entries {
		if e.depth == depth && len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, e)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
