package schedule

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/roach88/apifuzz/internal/ir"
)

// Defaults for Scheduler options.
const (
	DefaultExponent       = 1.0
	DefaultEpsilon        = 0.01
	DefaultAlphaMin       = 0.5
	DefaultCombinationLen = 5
	// baseEnergy is the uniform starting energy of every gadget in
	// API-combination mode.
	baseEnergy = 1.0
	// tripleReward is the raw energy added per newly discovered triple.
	tripleReward = 1.0
)

// GadgetStats is the coverage feedback for one gadget.
type GadgetStats struct {
	Coverage  float64 `json:"coverage"`
	ExecCount int     `json:"exec_count"`
}

// State is the resumable part of a Scheduler.
type State struct {
	Loop            int                `json:"loop"`
	PromptCounts    map[string]int     `json:"prompt_counts"`
	EnergyCounters  map[string]float64 `json:"energy_counters"`
	LastCombination []string           `json:"last_combination"`
}

// Scheduler assigns sampling weights to gadgets and draws combinations.
//
// Thread-safety: all methods may be called concurrently.
type Scheduler struct {
	mu sync.Mutex

	gadgets []ir.Gadget // catalog order
	byName  map[string]ir.Gadget
	seeds   []Seed // sorted by Name

	// Raw counters the seed set is rebuilt from.
	promptCounts   map[string]int
	energyCounters map[string]float64

	lastCombination []string
	loop            int

	exponent   float64
	epsilon    float64
	alphaMin   float64
	comboLen   int
	starvation StarvationPolicy
	rng        *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithExponent sets the coverage energy exponent. Default: 1.
func WithExponent(e float64) Option {
	return func(s *Scheduler) { s.exponent = e }
}

// WithEpsilon sets the normalization floor. Default: 0.01.
func WithEpsilon(eps float64) Option {
	return func(s *Scheduler) { s.epsilon = eps }
}

// WithAlphaMin sets the lowest condensation exponent. Default: 0.5.
func WithAlphaMin(a float64) Option {
	return func(s *Scheduler) { s.alphaMin = a }
}

// WithCombinationLen sets the number of gadgets per combination. Default: 5.
func WithCombinationLen(n int) Option {
	return func(s *Scheduler) { s.comboLen = n }
}

// WithStarvation installs a starvation override policy.
// Default: NoStarvation.
func WithStarvation(p StarvationPolicy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.starvation = p
		}
	}
}

// WithRand sets the random source used for sampling.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// New creates a Scheduler over the gadget catalog. Every gadget starts with
// energy and weight 1 so the first combination is a uniform draw.
func New(gadgets []ir.Gadget, opts ...Option) *Scheduler {
	s := &Scheduler{
		byName:         make(map[string]ir.Gadget, len(gadgets)),
		promptCounts:   make(map[string]int),
		energyCounters: make(map[string]float64),
		exponent:       DefaultExponent,
		epsilon:        DefaultEpsilon,
		alphaMin:       DefaultAlphaMin,
		comboLen:       DefaultCombinationLen,
		starvation:     NoStarvation,
	}
	for _, g := range gadgets {
		if _, dup := s.byName[g.Name]; dup {
			continue
		}
		s.byName[g.Name] = g
		s.gadgets = append(s.gadgets, g)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	s.resetUniform()
	return s
}

// resetUniform rebuilds the seed set with base energy and weight everywhere.
func (s *Scheduler) resetUniform() {
	s.seeds = s.newSeeds(func(name string) (float64, float64, int) {
		return baseEnergy, 0, 0
	})
	for i := range s.seeds {
		s.seeds[i].Weight = baseEnergy
	}
}

// newSeeds builds one seed per gadget from energy(name) -> (energy, coverage, exec).
func (s *Scheduler) newSeeds(energy func(name string) (float64, float64, int)) []Seed {
	seeds := make([]Seed, 0, len(s.gadgets))
	for _, g := range s.gadgets {
		e, cov, exec := energy(g.Name)
		seeds = append(seeds, Seed{
			Name:        g.Name,
			Coverage:    cov,
			ExecCount:   exec,
			PromptCount: s.promptCounts[g.Name],
			Energy:      e,
		})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Name < seeds[j].Name })
	return seeds
}

// InitializeForAPIMode clears the triple counters and gives every gadget the
// uniform base energy and weight.
func (s *Scheduler) InitializeForAPIMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energyCounters = make(map[string]float64)
	s.resetUniform()
}

// UpdateEnergies rebuilds the seed set from coverage feedback. Gadgets
// missing from stats count as uncovered and never executed.
func (s *Scheduler) UpdateEnergies(stats map[string]GadgetStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seeds = s.newSeeds(func(name string) (float64, float64, int) {
		st := stats[name]
		return Energy(st.Coverage, st.ExecCount, s.promptCounts[name], s.exponent), st.Coverage, st.ExecCount
	})
	alpha := s.reweight()
	slog.Debug("energies updated from coverage", "gadgets", len(s.seeds), "alpha", alpha)
}

// UpdateEnergiesFromTriples rewards the gadgets taking part in newly
// discovered call triples, then rebuilds the seed set. Call names that are
// not catalog gadgets are ignored.
func (s *Scheduler) UpdateEnergiesFromTriples(triples []ir.CallTriple) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rewarded := 0
	for _, t := range triples {
		for _, name := range t.Names() {
			if _, ok := s.byName[name]; !ok {
				continue
			}
			s.energyCounters[name] += tripleReward
			rewarded++
		}
	}

	s.seeds = s.newSeeds(func(name string) (float64, float64, int) {
		return baseEnergy + s.energyCounters[name], 0, 0
	})
	alpha := s.reweight()
	slog.Debug("energies updated from triples",
		"triples", len(triples),
		"rewarded", rewarded,
		"alpha", alpha)
}

func (s *Scheduler) reweight() float64 {
	Normalize(s.seeds, s.epsilon)
	return Condense(s.seeds, s.alphaMin)
}

// AssembleCombination draws a combination of distinct gadgets by weighted
// sampling. Its length is the configured combination length capped at the
// catalog size. Prompt counters of the chosen gadgets are incremented.
func (s *Scheduler) AssembleCombination() []ir.Gadget {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(s.comboLen, len(s.seeds))
	chosen := make(map[string]bool, n)
	combo := make([]ir.Gadget, 0, n)
	names := make([]string, 0, n)

	for len(combo) < n {
		var name string
		if p := s.starvation(s.loop); p > 0 && s.rng.Float64() < p {
			name = s.lowestEnergy(chosen)
			slog.Debug("starvation override", "gadget", name, "loop", s.loop, "p", p)
		} else {
			name = s.weightedDraw(chosen)
		}
		chosen[name] = true
		combo = append(combo, s.byName[name])
		names = append(names, name)
		s.promptCounts[name]++
	}

	s.lastCombination = names
	return combo
}

// weightedDraw picks one seed outside chosen with probability proportional
// to its weight, or uniformly when all remaining weights are zero.
func (s *Scheduler) weightedDraw(chosen map[string]bool) string {
	var (
		cands []string
		acc   []float64
		sum   float64
	)
	for _, seed := range s.seeds {
		if chosen[seed.Name] {
			continue
		}
		sum += seed.Weight
		cands = append(cands, seed.Name)
		acc = append(acc, sum)
	}
	if sum <= 0 {
		return cands[s.rng.Intn(len(cands))]
	}
	goal := s.rng.Float64() * sum
	idx := sort.Search(len(acc), func(i int) bool { return acc[i] > goal })
	if idx == len(acc) {
		idx = len(acc) - 1
	}
	return cands[idx]
}

func (s *Scheduler) lowestEnergy(chosen map[string]bool) string {
	best, bestEnergy := "", 0.0
	for _, seed := range s.seeds {
		if chosen[seed.Name] {
			continue
		}
		if best == "" || seed.Energy < bestEnergy {
			best, bestEnergy = seed.Name, seed.Energy
		}
	}
	return best
}

func (s *Scheduler) seedByName(name string) Seed {
	i := sort.Search(len(s.seeds), func(i int) bool { return s.seeds[i].Name >= name })
	if i < len(s.seeds) && s.seeds[i].Name == name {
		return s.seeds[i]
	}
	return Seed{}
}

// ShouldDelete flips a coin weighted by DeleteProbability(rate).
func (s *Scheduler) ShouldDelete(rate float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < DeleteProbability(rate)
}

// IncrementLoop advances the loop counter and returns the new value.
func (s *Scheduler) IncrementLoop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop++
	return s.loop
}

// Loop returns the loop counter.
func (s *Scheduler) Loop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Seeds returns a copy of the current seed set sorted by name.
func (s *Scheduler) Seeds() []Seed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Seed, len(s.seeds))
	copy(out, s.seeds)
	for i := range out {
		out[i].PromptCount = s.promptCounts[out[i].Name]
	}
	return out
}

// Seed returns the current seed of one gadget.
func (s *Scheduler) Seed(name string) (Seed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed := s.seedByName(name)
	seed.PromptCount = s.promptCounts[name]
	return seed, seed.Name == name && name != ""
}

// LastCombination returns the names of the most recent combination.
func (s *Scheduler) LastCombination() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastCombination...)
}

// Snapshot returns the resumable state.
func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Loop:            s.loop,
		PromptCounts:    make(map[string]int, len(s.promptCounts)),
		EnergyCounters:  make(map[string]float64, len(s.energyCounters)),
		LastCombination: append([]string(nil), s.lastCombination...),
	}
	for k, v := range s.promptCounts {
		st.PromptCounts[k] = v
	}
	for k, v := range s.energyCounters {
		st.EnergyCounters[k] = v
	}
	return st
}

// Restore replaces the counters with st and rebuilds the seed set from the
// triple counters.
func (s *Scheduler) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = st.Loop
	s.promptCounts = make(map[string]int, len(st.PromptCounts))
	for k, v := range st.PromptCounts {
		s.promptCounts[k] = v
	}
	s.energyCounters = make(map[string]float64, len(st.EnergyCounters))
	for k, v := range st.EnergyCounters {
		s.energyCounters[k] = v
	}
	s.lastCombination = append([]string(nil), st.LastCombination...)

	if len(s.energyCounters) == 0 {
		s.resetUniform()
		return
	}
	s.seeds = s.newSeeds(func(name string) (float64, float64, int) {
		return baseEnergy + s.energyCounters[name], 0, 0
	})
	s.reweight()
}

// Gadget returns the catalog entry for name.
func (s *Scheduler) Gadget(name string) (ir.Gadget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byName[name]
	return g, ok
}
