package header

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the direct-include relation over header names.
//
// Unlike the per-header trees, a header appears in the graph exactly once and
// cyclic inclusion is a real cycle of edges.
type Graph struct {
	edges map[string]map[string]struct{}
	// included holds every name that appears as a child in some tree.
	included map[string]struct{}
}

// BuildGraph folds include trees into one Graph. Invalid trees are ignored.
func BuildGraph(trees []*Node) *Graph {
	g := &Graph{
		edges:    make(map[string]map[string]struct{}),
		included: make(map[string]struct{}),
	}
	for _, t := range trees {
		if t.Invalid() {
			continue
		}
		t.Walk(func(n *Node) {
			g.addNode(n.Name)
			for _, c := range n.Children {
				g.addNode(c.Name)
				g.edges[n.Name][c.Name] = struct{}{}
				g.included[c.Name] = struct{}{}
			}
		})
	}
	return g
}

func (g *Graph) addNode(name string) {
	if _, ok := g.edges[name]; !ok {
		g.edges[name] = make(map[string]struct{})
	}
}

// Len returns the number of distinct header names.
func (g *Graph) Len() int {
	return len(g.edges)
}

// Nodes returns all header names in sorted order.
func (g *Graph) Nodes() []string {
	return sortedKeys(g.edges)
}

// Includes returns the direct includes of name in sorted order.
func (g *Graph) Includes(name string) []string {
	return sortedKeys(g.edges[name])
}

// IncludedByOthers reports whether name appears as a child in any tree.
func (g *Graph) IncludedByOthers(name string) bool {
	_, ok := g.included[name]
	return ok
}

// Reachable returns name and every header reachable from it through direct
// include edges.
func (g *Graph) Reachable(name string) map[string]struct{} {
	seen := make(map[string]struct{})
	stack := []string{name}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		for next := range g.edges[cur] {
			if _, ok := seen[next]; !ok {
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// Independent returns the sorted names that no header includes.
func (g *Graph) Independent() []string {
	var out []string
	for _, name := range g.Nodes() {
		if !g.IncludedByOthers(name) {
			out = append(out, name)
		}
	}
	return out
}

// GreedyCover returns a small set of headers whose reachable sets together
// cover every node.
//
// Each step picks the uncovered header that reaches the most uncovered
// headers. Ties go to the lexically smallest name. The result is sorted.
func (g *Graph) GreedyCover() []string {
	nodes := g.Nodes()
	covered := make(map[string]struct{}, len(nodes))
	reach := make(map[string]map[string]struct{}, len(nodes))
	for _, n := range nodes {
		reach[n] = g.Reachable(n)
	}

	var selected []string
	for len(covered) < len(nodes) {
		best, bestGain := "", 0
		for _, n := range nodes {
			if _, ok := covered[n]; ok {
				continue
			}
			gain := 0
			for r := range reach[n] {
				if _, ok := covered[r]; !ok {
					gain++
				}
			}
			if gain > bestGain {
				best, bestGain = n, gain
			}
		}
		selected = append(selected, best)
		for r := range reach[best] {
			covered[r] = struct{}{}
		}
	}
	sort.Strings(selected)
	return selected
}

// Cycle is one group of headers that include each other.
type Cycle struct {
	Path    []string `json:"path"` // e.g. ["a.h", "b.h", "a.h"]
	Message string   `json:"message"`
}

// Cycles finds include cycles using Tarjan's strongly connected components.
// Components of size one count only when the header includes itself.
// Results are ordered by their first path element.
func (g *Graph) Cycles() []Cycle {
	var cycles []Cycle
	for _, scc := range g.tarjanSCC() {
		if len(scc) == 1 && !g.hasSelfLoop(scc[0]) {
			continue
		}
		sort.Strings(scc)
		path := g.cyclePath(scc)
		cycles = append(cycles, Cycle{
			Path:    path,
			Message: fmt.Sprintf("include cycle: %s", strings.Join(path, " -> ")),
		})
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].Path[0] < cycles[j].Path[0]
	})
	return cycles
}

func (g *Graph) hasSelfLoop(name string) bool {
	_, ok := g.edges[name][name]
	return ok
}

func (g *Graph) tarjanSCC() [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Includes(v) {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.Nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks edges inside scc from its first member back to it.
func (g *Graph) cyclePath(scc []string) []string {
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range g.Includes(current) {
			if w == start && len(path) > 1 {
				next = w
				break
			}
			if members[w] && !visited[w] {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return path
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
