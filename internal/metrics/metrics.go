// Package metrics holds the engine's Prometheus instrumentation on a
// package-local registry, served at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry  = prometheus.NewRegistry()
	startTime = time.Now()

	TurnsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamishibai_turns_total",
			Help: "Turns processed, partitioned by mode.",
		},
		[]string{"mode"},
	)

	TurnFailures = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamishibai_turn_failures_total",
			Help: "Turns that degraded, partitioned by failure kind.",
		},
		[]string{"kind"},
	)

	TransitionsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kamishibai_transitions_total",
			Help: "Transition attempts, partitioned by result.",
		},
		[]string{"result"},
	)

	MoodsCoerced = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "kamishibai_moods_coerced_total",
			Help: "Requested moods replaced by the default after validation.",
		},
	)

	UndoTotal = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "kamishibai_undo_total",
			Help: "Successful undo operations.",
		},
	)

	VoiceAnalysisFailures = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "kamishibai_voice_analysis_failures_total",
			Help: "Voice transcript analysis passes that degraded.",
		},
	)

	WSClients = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "kamishibai_ws_clients",
			Help: "Connected event stream clients.",
		},
	)

	_ = promauto.With(registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kamishibai_uptime_seconds",
			Help: "Seconds since engine start.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
