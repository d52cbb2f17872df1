package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GenerationMetrics records lifecycle counters for generation tasks.
type GenerationMetrics struct {
	submitted *prometheus.CounterVec
	settled   *prometheus.CounterVec
}

// NewGenerationMetrics registers the generation metrics on the provided
// registerer.
func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	if reg == nil {
		return &GenerationMetrics{}
	}
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_submitted",
		Help: "Generation tasks accepted for processing.",
	}, []string{"modality"})
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_settled",
		Help: "Generation tasks reaching a terminal status.",
	}, []string{"modality", "outcome"})
	reg.MustRegister(submitted, settled)
	return &GenerationMetrics{
		submitted: submitted,
		settled:   settled,
	}
}

// IncSubmitted increments the submission counter for the modality.
func (g *GenerationMetrics) IncSubmitted(modality string) {
	if g == nil || g.submitted == nil {
		return
	}
	g.submitted.WithLabelValues(normalizeLabel(modality)).Inc()
}

// IncSettled increments the terminal-status counter for the modality and
// outcome.
func (g *GenerationMetrics) IncSettled(modality, outcome string) {
	if g == nil || g.settled == nil {
		return
	}
	g.settled.WithLabelValues(normalizeLabel(modality), normalizeLabel(outcome)).Inc()
}
