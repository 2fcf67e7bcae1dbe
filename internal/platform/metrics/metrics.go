package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the portal. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Fetch outcomes by list ("applications", "audit") and result ("ok", "error")
	Fetches *prometheus.CounterVec

	// Fetch latency by list
	FetchLatency *prometheus.HistogramVec

	// Change events that triggered a reconciliation, by list and event type
	ChangeEvents *prometheus.CounterVec

	// Discarded out-of-order fetch results
	StaleFetches *prometheus.CounterVec

	// Subscriptions re-established after a drop, by table
	Reconnects *prometheus.CounterVec

	// Workflow confirmations by outcome
	WorkflowOutcomes *prometheus.CounterVec

	// Live dashboards
	ActiveDashboards prometheus.Gauge

	// Audit entries mirrored to Kafka by result
	MirroredEntries *prometheus.CounterVec

	// HTTP request latency by route pattern, method and status
	RequestLatency *prometheus.HistogramVec
}

// New creates the metrics and registers them on reg. Pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry() in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govportal_sync_fetches_total",
			Help: "Total list fetches by list and result",
		}, []string{"list", "result"}),

		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govportal_sync_fetch_duration_seconds",
			Help:    "Duration of list fetches",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"list"}),

		ChangeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govportal_sync_change_events_total",
			Help: "Change events received by list and event type",
		}, []string{"list", "type"}),

		StaleFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govportal_sync_stale_fetches_total",
			Help: "Fetch results discarded because a newer fetch was already applied",
		}, []string{"list"}),

		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govportal_sync_reconnects_total",
			Help: "Subscriptions re-established after a drop",
		}, []string{"table"}),

		WorkflowOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govportal_workflow_outcomes_total",
			Help: "Workflow confirmations by outcome",
		}, []string{"outcome"}),

		ActiveDashboards: f.NewGauge(prometheus.GaugeOpts{
			Name: "govportal_dashboards_active",
			Help: "Dashboards currently mounted",
		}),

		MirroredEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govportal_audit_mirror_entries_total",
			Help: "Audit entries mirrored to Kafka by result",
		}, []string{"result"}),

		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govportal_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// ObserveFetch records one list fetch.
func (m *Metrics) ObserveFetch(list string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Fetches.WithLabelValues(list, result).Inc()
	m.FetchLatency.WithLabelValues(list).Observe(d.Seconds())
}

// IncrementChangeEvent records a received change event.
func (m *Metrics) IncrementChangeEvent(list, eventType string) {
	if m != nil {
		m.ChangeEvents.WithLabelValues(list, eventType).Inc()
	}
}

// IncrementStaleFetch records a discarded fetch result.
func (m *Metrics) IncrementStaleFetch(list string) {
	if m != nil {
		m.StaleFetches.WithLabelValues(list).Inc()
	}
}

// IncrementReconnect records a re-established subscription.
func (m *Metrics) IncrementReconnect(table string) {
	if m != nil {
		m.Reconnects.WithLabelValues(table).Inc()
	}
}

// IncrementWorkflowOutcome records a workflow confirmation.
func (m *Metrics) IncrementWorkflowOutcome(outcome string) {
	if m != nil {
		m.WorkflowOutcomes.WithLabelValues(outcome).Inc()
	}
}

// SetActiveDashboards sets the mounted dashboard count.
func (m *Metrics) SetActiveDashboards(n int) {
	if m != nil {
		m.ActiveDashboards.Set(float64(n))
	}
}

// IncrementMirrored records a mirrored audit entry.
func (m *Metrics) IncrementMirrored(result string) {
	if m != nil {
		m.MirroredEntries.WithLabelValues(result).Inc()
	}
}

// ObserveRequest records an HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(route, method, statusLabel(status)).Observe(d.Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
