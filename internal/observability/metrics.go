package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	WSWriteErrors       *prometheus.CounterVec
	ChunkBytes          prometheus.Counter
	UtterancesFinalized *prometheus.CounterVec
	PipelineStage       *prometheus.HistogramVec
	PipelineFailures    *prometheus.CounterVec
	FramesStreamed      prometheus.Counter
	StreamOutcomes      *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected relay sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and kind.",
		}, []string{"direction", "kind"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket transport errors by operation.",
		}, []string{"op"}),
		ChunkBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Audio bytes received from clients.",
		}),
		UtterancesFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Recordings finalized by trigger.",
		}, []string{"trigger"}),
		PipelineStage: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_ms",
			Help:      "Utterance pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage", "outcome"}),
		PipelineFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Utterance pipeline failures by kind.",
		}, []string{"kind"}),
		FramesStreamed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_streamed_total",
			Help:      "Reply frames sent to clients.",
		}),
		StreamOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_outcomes_total",
			Help:      "Reply playback outcomes.",
		}, []string{"outcome"}),
		stages: newStageWindow(256),
	}
}

// ObserveStage records one pipeline stage run.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ms := float64(d.Microseconds()) / 1000
	m.PipelineStage.WithLabelValues(stage, outcome).Observe(ms)
	if err == nil {
		m.stages.Observe(stage, ms)
	}
}

// ObserveUtterance records the end-to-end time from finalize to reply ready.
func (m *Metrics) ObserveUtterance(d time.Duration) {
	m.stages.Observe("utterance_total", float64(d.Microseconds())/1000)
}

// ObserveFailure counts a pipeline failure of the given kind.
func (m *Metrics) ObserveFailure(kind string) {
	m.PipelineFailures.WithLabelValues(kind).Inc()
	m.stages.ObserveIndicator(kind)
}

// SnapshotStages returns the rolling latency window served at /v1/perf/latency.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
