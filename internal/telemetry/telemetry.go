package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry records engine metrics. A nil *Telemetry is valid and
// drops everything, so call sites never need guards.
type Telemetry struct {
	turnsTotal           *prometheus.CounterVec
	turnDuration         prometheus.Histogram
	specialistIterations prometheus.Histogram
	toolInvocations      *prometheus.CounterVec
	streamTextDeltas     prometheus.Counter
}

// New registers engine metrics on the given registerer (pass
// prometheus.DefaultRegisterer in the server).
func New(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "turns_total",
			Help:      "Turns processed, labeled by terminal next action.",
		}, []string{"next_action"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one orchestrator decision cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		specialistIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "specialist_iterations",
			Help:      "Model invocations used per delegated specialist run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		toolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "tool_invocations_total",
			Help:      "Data tool invocations, labeled by tool and outcome.",
		}, []string{"tool", "outcome"}),
		streamTextDeltas: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "stream_text_deltas_total",
			Help:      "Text deltas forwarded to callers.",
		}),
	}
}

func (t *Telemetry) RecordTurn(nextAction string, d time.Duration) {
	if t == nil {
		return
	}
	t.turnsTotal.WithLabelValues(nextAction).Inc()
	t.turnDuration.Observe(d.Seconds())
}

func (t *Telemetry) RecordSpecialistRun(iterations int) {
	if t == nil {
		return
	}
	t.specialistIterations.Observe(float64(iterations))
}

func (t *Telemetry) RecordToolInvocation(tool string, err error) {
	if t == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.toolInvocations.WithLabelValues(tool, outcome).Inc()
}

func (t *Telemetry) RecordTextDelta() {
	if t == nil {
		return
	}
	t.streamTextDeltas.Inc()
}
