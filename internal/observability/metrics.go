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
	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	RequestOutcomes     *prometheus.CounterVec
	DiscardedAssets     prometheus.Counter
	WSMessages          *prometheus.CounterVec
	QueueWait           prometheus.Histogram
	InferenceDuration   prometheus.Histogram

	// Latency keeps a short in-process window of recent stage timings for
	// the perf endpoint.
	Latency *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Latency: NewStageWindow(256),
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of users with a non-idle conversation.",
		}),
		ConversationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Inbound conversation events by type.",
		}, []string{"event"}),
		RequestOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_outcomes_total",
			Help:      "Terminal request outcomes by job type and kind.",
		}, []string{"job_type", "outcome"}),
		DiscardedAssets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_assets_total",
			Help:      "Assets trimmed from over- or odd-sized request buffers.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket chat messages by direction and type.",
		}, []string{"direction", "type"}),
		QueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time a submitted task waited for the worker slot.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		InferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Wall time of one backend stylization run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) ObserveEvent(event string) {
	m.ConversationEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveOutcome(jobType, outcome string) {
	m.RequestOutcomes.WithLabelValues(jobType, outcome).Inc()
	m.Latency.ObserveOutcome(outcome)
}

func (m *Metrics) ObserveQueueWait(d time.Duration) {
	m.QueueWait.Observe(d.Seconds())
	m.Latency.Observe(StageQueueWait, d)
}

func (m *Metrics) ObserveInferenceDuration(d time.Duration) {
	m.InferenceDuration.Observe(d.Seconds())
	m.Latency.Observe(StageInference, d)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
