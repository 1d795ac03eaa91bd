package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/apifuzz/internal/ir"
)

// TripleSet is the shared set of discovered call triples.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type TripleSet struct {
	mu  sync.Mutex
	set map[ir.CallTriple]struct{}
}

// NewTripleSet creates an empty set.
func NewTripleSet() *TripleSet {
	return &TripleSet{set: make(map[ir.CallTriple]struct{})}
}

// Add inserts triples and returns the ones not present before, in input
// order. A triple repeated within triples is returned once.
func (s *TripleSet) Add(triples []ir.CallTriple) []ir.CallTriple {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fresh []ir.CallTriple
	for _, t := range triples {
		if _, seen := s.set[t]; seen {
			continue
		}
		s.set[t] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

// Len returns the number of distinct triples.
func (s *TripleSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// WritePairsFile writes the triples of program id to dir/<id>.pairs, one
// ("a", "b", "c") line per triple in call order.
func WritePairsFile(dir string, id int64, triples []ir.CallTriple) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("pairs dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.pairs", id))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create pairs file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, t := range triples {
		fmt.Fprintln(w, t.String())
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("write pairs file: %w", err)
	}
	return path, nil
}
