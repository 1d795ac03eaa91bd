package engine

import (
	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/schedule"
	"github.com/roach88/apifuzz/internal/toolchain"
)

// gadgetCoverage attributes branch coverage to the gadgets a program calls.
//
// A gadget's coverage is the fraction of library branches hit by the union
// of every successful program that calls it; its exec count is the number
// of such programs.
type gadgetCoverage struct {
	branches map[string]map[string]struct{}
	execs    map[string]int
	found    int
}

func newGadgetCoverage() *gadgetCoverage {
	return &gadgetCoverage{
		branches: make(map[string]map[string]struct{}),
		execs:    make(map[string]int),
	}
}

// record credits cov to every distinct catalog gadget among calls.
func (g *gadgetCoverage) record(calls []string, cov toolchain.Coverage, lookup func(string) (ir.Gadget, bool)) {
	g.found = max(g.found, cov.BranchesFound)
	seen := make(map[string]bool)
	for _, name := range calls {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := lookup(name); !ok {
			continue
		}
		g.execs[name]++
		set := g.branches[name]
		if set == nil {
			set = make(map[string]struct{})
			g.branches[name] = set
		}
		for b := range cov.Branches {
			set[b] = struct{}{}
		}
	}
}

// stats returns scheduler feedback for every gadget seen so far.
func (g *gadgetCoverage) stats() map[string]schedule.GadgetStats {
	out := make(map[string]schedule.GadgetStats, len(g.execs))
	for name, n := range g.execs {
		st := schedule.GadgetStats{ExecCount: n}
		if g.found > 0 {
			st.Coverage = float64(len(g.branches[name])) / float64(g.found)
		}
		out[name] = st
	}
	return out
}
