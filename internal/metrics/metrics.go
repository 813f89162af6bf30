// Package metrics exposes Prometheus instrumentation of the collection and
// export pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Artifact kinds used as the "artifact" label.
const (
	ArtifactCallTree   = "calltree"
	ArtifactFlameChart = "flamechart"
	ArtifactPprof      = "pprof"
	ArtifactFolded     = "folded"
)

var (
	recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfmerge_records_dropped_total",
		Help: "Telemetry records or samples dropped during ingestion, by reason",
	}, []string{"reason"})

	deltasClamped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perfmerge_time_deltas_clamped_total",
		Help: "Time deltas raised to keep profiles monotonic",
	})

	retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfmerge_source_retrievals_total",
		Help: "Telemetry pulls from sources, by outcome",
	}, []string{"outcome"})

	retrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perfmerge_source_retrieval_duration_seconds",
		Help:    "Duration of telemetry pulls from sources",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perfmerge_flamechart_events_dropped_total",
		Help: "Flame-chart events dropped for negative or inverted spans",
	})

	synthesizedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perfmerge_synthesized_frames_total",
		Help: "Frames synthesized while repairing inconsistent merges",
	})

	generateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perfmerge_generate_duration_seconds",
		Help:    "Duration of artifact generation",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"artifact"})

	generated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfmerge_artifacts_generated_total",
		Help: "Artifacts generated, by kind and whether they were empty",
	}, []string{"artifact", "empty"})
)

// Retrieval outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// RecordDropped adds n to the dropped counter for reason.
func RecordDropped(reason string, n int) {
	if n > 0 {
		recordsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// DeltasClamped adds n clamped time deltas.
func DeltasClamped(n int) {
	if n > 0 {
		deltasClamped.Add(float64(n))
	}
}

// Retrieval records one source pull.
func Retrieval(outcome string, d time.Duration) {
	retrievals.WithLabelValues(outcome).Inc()
	retrievalDuration.Observe(d.Seconds())
}

// EventsDropped adds n dropped flame-chart events.
func EventsDropped(n int) {
	if n > 0 {
		eventsDropped.Add(float64(n))
	}
}

// FramesSynthesized adds n synthesized frames.
func FramesSynthesized(n int) {
	if n > 0 {
		synthesizedFrames.Add(float64(n))
	}
}

// Generated records one generate call for artifact.
func Generated(artifact string, empty bool, d time.Duration) {
	e := "false"
	if empty {
		e = "true"
	}
	generated.WithLabelValues(artifact, e).Inc()
	generateDuration.WithLabelValues(artifact).Observe(d.Seconds())
}
