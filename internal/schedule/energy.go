// Package schedule implements the energy-based power schedule that decides
// which API gadgets the generator is asked to combine next.
//
// Every gadget has a Seed carrying its raw energy and a sampling weight.
// Raw energies come either from coverage statistics (fuzz-driver mode) or
// from newly discovered call triples (API-combination mode). After every
// feedback signal the whole seed set is rebuilt, min-max normalized and
// condensed so that weights always reflect one global snapshot.
package schedule

import (
	"math"
)

// Seed is the scheduling record of one gadget.
//
// Weight is only meaningful after Normalize (and usually Condense) has run
// over the full seed set.
type Seed struct {
	Name        string  `json:"name"`
	Coverage    float64 `json:"coverage"`
	ExecCount   int     `json:"exec_count"`
	PromptCount int     `json:"prompt_count"`
	Energy      float64 `json:"energy"`
	Weight      float64 `json:"weight"`
}

// Energy scores a gadget by how uncovered and how rarely tried it is:
//
//	(1 - coverage) / ((1 + exec) * (1 + prompt))^exponent
func Energy(coverage float64, exec, prompt int, exponent float64) float64 {
	attempts := float64(1+exec) * float64(1+prompt)
	return (1 - coverage) / math.Pow(attempts, exponent)
}

// Normalize rescales every Energy into a Weight in [eps, 1].
//
// The seed with the largest energy gets weight 1 and the smallest gets eps.
// When all energies are equal every weight is 1.
func Normalize(seeds []Seed, eps float64) {
	if len(seeds) == 0 {
		return
	}
	lo, hi := seeds[0].Energy, seeds[0].Energy
	for _, s := range seeds[1:] {
		lo = math.Min(lo, s.Energy)
		hi = math.Max(hi, s.Energy)
	}
	if hi == lo {
		for i := range seeds {
			seeds[i].Weight = 1
		}
		return
	}
	span := hi - lo
	for i := range seeds {
		seeds[i].Weight = eps + (1-eps)*(seeds[i].Energy-lo)/span
	}
}

// Condense raises every weight to alpha, where
//
//	s     = stddev(weights) / mean(weights)
//	alpha = alphaMin + (1 - alphaMin) * exp(-s)
//
// A skewed weight distribution is flattened toward alphaMin; a near-uniform
// one is left almost unchanged. Condense returns the alpha it applied.
func Condense(seeds []Seed, alphaMin float64) float64 {
	if len(seeds) == 0 {
		return 1
	}
	var sum float64
	for _, s := range seeds {
		sum += s.Weight
	}
	mean := sum / float64(len(seeds))
	if mean <= 0 {
		return 1
	}
	var sq float64
	for _, s := range seeds {
		d := s.Weight - mean
		sq += d * d
	}
	skew := math.Sqrt(sq/float64(len(seeds))) / mean
	alpha := alphaMin + (1-alphaMin)*math.Exp(-skew)
	for i := range seeds {
		seeds[i].Weight = math.Pow(seeds[i].Weight, alpha)
	}
	return alpha
}
