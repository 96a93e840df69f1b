package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics holds the prometheus instruments for the payment engine.
type Metrics struct {
	IntentsCreatedTotal *prometheus.CounterVec
	WebhookEventsTotal  *prometheus.CounterVec
	SweepRunsTotal      prometheus.Counter
	SweepResolvedTotal  *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IntentsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_intents_created_total",
			Help: "Payment intent creation attempts by outcome.",
		}, []string{"outcome"}),
		WebhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_webhook_events_total",
			Help: "Webhook events by apply result.",
		}, []string{"result"}),
		SweepRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payflow_sweep_runs_total",
			Help: "Reconciliation sweep executions.",
		}),
		SweepResolvedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_sweep_resolved_total",
			Help: "Stuck intents resolved by the sweep, by outcome.",
		}, []string{"outcome"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payflow_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) RecordIntentCreate(outcome string) {
	if m == nil {
		return
	}
	m.IntentsCreatedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSweepRun() {
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
}

func (m *Metrics) RecordSweepResolved(outcome string) {
	if m == nil {
		return
	}
	m.SweepResolvedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
