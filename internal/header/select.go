package header

import (
	"strings"
)

// Selection is the outcome of choosing consumer-visible headers.
type Selection struct {
	Headers []string
	// Fallback is true when no header was independent and the set came
	// from GreedyCover.
	Fallback bool
}

// SelectIncludes chooses the headers a consumer should include.
//
// Independent headers are returned when any exist. Otherwise every header is
// included by another one and the greedy cover over the include graph is
// returned instead.
func SelectIncludes(g *Graph) Selection {
	if g.Len() == 0 {
		return Selection{}
	}
	if independent := g.Independent(); len(independent) > 0 {
		return Selection{Headers: independent}
	}
	return Selection{Headers: g.GreedyCover(), Fallback: true}
}

// SystemHeaders lists the system headers directly included by library
// headers in the trees rooted at one of selected.
//
// Each path is shortened to the part after its last "/include/" segment.
// Paths without such a segment are dropped. Order follows discovery and
// duplicates are removed.
func SystemHeaders(trees []*Node, selected []string) []string {
	want := make(map[string]bool, len(selected))
	for _, s := range selected {
		want[s] = true
	}

	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, t := range trees {
		if t.Invalid() || !want[t.Name] {
			continue
		}
		t.Walk(func(n *Node) {
			for _, sys := range n.SystemIncludes {
				short, ok := trimInclude(sys)
				if !ok || seen[short] {
					continue
				}
				seen[short] = true
				out = append(out, short)
			}
		})
	}
	return out
}

func trimInclude(p string) (string, bool) {
	const marker = "/include/"
	idx := strings.LastIndex(p, marker)
	if idx < 0 {
		return "", false
	}
	short := p[idx+len(marker):]
	return short, short != ""
}
