// Package metrics exposes run counters of a generation session in
// Prometheus form.
//
// A session owns its own registry; nothing is registered globally. The CLI
// writes the registry to a node-exporter textfile when the session ends.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/apifuzz/internal/generator"
	"github.com/roach88/apifuzz/internal/ir"
)

const namespace = "apifuzz"

// Metrics holds the collectors of one session.
//
// Thread-safety: Prometheus collectors are safe for concurrent use.
type Metrics struct {
	reg *prometheus.Registry

	programs    *prometheus.CounterVec
	rounds      prometheus.Counter
	quietRounds prometheus.Gauge
	triples     prometheus.Gauge
	branches    prometheus.Gauge
	coverage    prometheus.Gauge
	validation  prometheus.Histogram

	genRequests prometheus.Gauge
	genFailures prometheus.Gauge
	genTokens   *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry labelled with target.
func New(target string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"target": target}, reg))
	return &Metrics{
		reg: reg,
		programs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "programs_total",
			Help:      "Generated programs by validation verdict",
		}, []string{"verdict"}),
		rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed generation rounds",
		}),
		quietRounds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quiet_rounds",
			Help:      "Consecutive rounds without new feedback",
		}),
		triples: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_triples",
			Help:      "Distinct call triples discovered",
		}),
		branches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "branches_covered",
			Help:      "Distinct library branches covered by the corpus",
		}),
		coverage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "branch_coverage_percent",
			Help:      "Cumulative branch coverage of the corpus",
		}),
		validation: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_seconds",
			Help:      "Time to compile and run one candidate program",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		genRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "requests",
			Help:      "Completion requests sent",
		}),
		genFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "failures",
			Help:      "Completion requests that failed",
		}),
		genTokens: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "tokens",
			Help:      "Tokens reported by the backend",
		}, []string{"kind"}),
	}
}

// Registry returns the session registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveProgram counts one validated program.
func (m *Metrics) ObserveProgram(v ir.Verdict, seconds float64) {
	m.programs.WithLabelValues(v.String()).Inc()
	m.validation.Observe(seconds)
}

// ObserveRound records the end of a round.
func (m *Metrics) ObserveRound(quiet, triples int) {
	m.rounds.Inc()
	m.quietRounds.Set(float64(quiet))
	m.triples.Set(float64(triples))
}

// SetBranches records the size of the covered branch set.
func (m *Metrics) SetBranches(n int) {
	m.branches.Set(float64(n))
}

// SetCoverage records cumulative branch coverage in percent.
func (m *Metrics) SetCoverage(pct float64) {
	m.coverage.Set(pct)
}

// SetGeneratorStats copies the cumulative client counters.
func (m *Metrics) SetGeneratorStats(s generator.Stats) {
	m.genRequests.Set(float64(s.Requests))
	m.genFailures.Set(float64(s.Failures))
	m.genTokens.WithLabelValues("prompt").Set(float64(s.PromptTokens))
	m.genTokens.WithLabelValues("completion").Set(float64(s.CompletionTokens))
}

// WriteTextfile writes every collector to path in the text exposition
// format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
