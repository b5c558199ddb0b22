package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	RepliesTotal     *prometheus.CounterVec
	FallbacksTotal   *prometheus.CounterVec
	CompactionsTotal *prometheus.CounterVec
	StorageEvents    *prometheus.CounterVec
	SiblingFallbacks *prometheus.CounterVec
	ModelLatency     prometheus.Histogram
	ActiveStreams    prometheus.Gauge

	replyStages *replyStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RepliesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Generated replies by outcome (ok or fallback).",
		}, []string{"outcome"}),
		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback replies by reason.",
		}, []string{"reason"}),
		CompactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Conversation window compactions by result.",
		}, []string{"result"}),
		StorageEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_events_total",
			Help:      "History storage degradations by event.",
		}, []string{"event"}),
		SiblingFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sibling_fallbacks_total",
			Help:      "Sibling-service calls that fell back to safe defaults, by capability.",
		}, []string{"capability"}),
		ModelLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_ms",
			Help:      "Model invocation latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 20000},
		}),
		ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open streaming reply connections.",
		}),
		replyStages: newReplyStageWindow(256),
	}
}

func (m *Metrics) ObserveModelLatency(d time.Duration) {
	m.ModelLatency.Observe(float64(d.Milliseconds()))
}

// ObserveReplyStage records one pipeline stage duration into the rolling
// latency window exposed at /internal/perf.
func (m *Metrics) ObserveReplyStage(stage string, d time.Duration) {
	if m == nil || m.replyStages == nil {
		return
	}
	m.replyStages.Observe(stage, float64(d.Microseconds())/1000.0)
}

func (m *Metrics) ReplyStageSnapshot() ReplyStageSnapshot {
	if m == nil || m.replyStages == nil {
		return ReplyStageSnapshot{}
	}
	return m.replyStages.Snapshot()
}

func (m *Metrics) ResetReplyStages() {
	if m == nil || m.replyStages == nil {
		return
	}
	m.replyStages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
