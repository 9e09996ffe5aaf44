package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/chatmemory/internal/memory"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	TurnsAppended     *prometheus.CounterVec
	ContextClears     prometheus.Counter
	Sweeps            *prometheus.CounterVec
	SweptTurns        prometheus.Counter
	Completions       *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	WSMessages        *prometheus.CounterVec
	ChatEvents        *prometheus.CounterVec

	latency *latencyWindow
}

// NewMetrics registers collectors with reg; nil means the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		TurnsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Stored message turns by role.",
		}, []string{"role"}),
		ContextClears: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_clears_total",
			Help:      "Explicit context clears.",
		}),
		Sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Retention sweeps by result.",
		}, []string{"result"}),
		SweptTurns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_turns_total",
			Help:      "Turns deleted by retention sweeps.",
		}),
		Completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Completion calls by result.",
		}, []string{"result"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion call latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ChatEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_events_total",
			Help:      "Chat handler outcomes by event.",
		}, []string{"event"}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTurn(role memory.Role) {
	if m == nil {
		return
	}
	m.TurnsAppended.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) ObserveContextClear(int64) {
	if m == nil {
		return
	}
	m.ContextClears.Inc()
}

func (m *Metrics) ObserveSweep(deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Sweeps.WithLabelValues("error").Inc()
		return
	}
	m.Sweeps.WithLabelValues("ok").Inc()
	m.SweptTurns.Add(float64(deleted))
}

func (m *Metrics) ObserveCompletion(result string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Completions.WithLabelValues(result).Inc()
	m.CompletionLatency.Observe(float64(latency.Milliseconds()))
	m.latency.Observe(StageCompletion, latency)
}

// ObserveStage feeds the rolling window behind /v1/perf/latency.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, d)
}

func (m *Metrics) ObserveChatEvent(event string) {
	if m == nil {
		return
	}
	m.ChatEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
