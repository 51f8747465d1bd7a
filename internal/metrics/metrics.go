package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all custom Prometheus metrics for the bot.
// Every method is safe on a nil receiver so tests can skip wiring.
type Metrics struct {
	registry *prometheus.Registry

	SessionEvents   *prometheus.CounterVec
	ResolverResults *prometheus.CounterVec
	ResolverLatency prometheus.Histogram
	Transcriptions  *prometheus.CounterVec
	ReportDispatch  *prometheus.CounterVec
	ReportRuns      *prometheus.CounterVec
}

// New builds the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nutribot_session_events_total",
			Help: "Confirmation session transitions by event",
		}, []string{"event"}), // proposed, confirmed, declined, superseded, expired, no_pending

		ResolverResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nutribot_resolver_results_total",
			Help: "Nutrient resolver outcomes",
		}, []string{"result"}),

		ResolverLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nutribot_resolver_duration_seconds",
			Help:    "Nutrient resolver upstream latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),

		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nutribot_transcriptions_total",
			Help: "Voice transcriptions by result",
		}, []string{"result"}),

		ReportDispatch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nutribot_report_dispatch_total",
			Help: "Daily report deliveries by result",
		}, []string{"result"}),

		ReportRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nutribot_report_runs_total",
			Help: "Daily report runs by trigger",
		}, []string{"trigger"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ResolverResult(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ResolverResults.WithLabelValues(result).Inc()
	if took > 0 {
		m.ResolverLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) Transcription(result string) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result).Inc()
}

func (m *Metrics) Dispatch(result string) {
	if m == nil {
		return
	}
	m.ReportDispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) ReportRun(trigger string) {
	if m == nil {
		return
	}
	m.ReportRuns.WithLabelValues(trigger).Inc()
}
