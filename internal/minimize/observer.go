// Package minimize reduces a program corpus to a subset that preserves its
// covered universe.
//
// Two universes are supported: taken branches (ByBranchCoverage) and
// consecutive API call pairs (ByAPIPairs). Both walk programs in
// descending order of individual contribution and retain a program only if
// it adds at least one element the retained set does not already cover.
// The walk is greedy, so the result is small but not necessarily minimum.
package minimize

import (
	"sync"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// Observer accumulates the branches covered by retained programs.
//
// Thread-safety: all methods may be called concurrently.
type Observer struct {
	mu       sync.Mutex
	branches map[string]struct{}
}

// NewObserver returns an empty Observer.
func NewObserver() *Observer {
	return &Observer{branches: make(map[string]struct{})}
}

// HasUniqueBranch reports whether cov hits any branch not yet observed.
func (o *Observer) HasUniqueBranch(cov toolchain.Coverage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for b := range cov.Branches {
		if _, ok := o.branches[b]; !ok {
			return true
		}
	}
	return false
}

// Merge adds the branches of cov and returns how many were new.
func (o *Observer) Merge(cov toolchain.Coverage) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	added := 0
	for b := range cov.Branches {
		if _, ok := o.branches[b]; !ok {
			o.branches[b] = struct{}{}
			added++
		}
	}
	return added
}

// Len returns the number of observed branches.
func (o *Observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.branches)
}
