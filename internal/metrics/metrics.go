package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the order engines. A nil *Metrics is valid
// and records nothing, so engines can be built without it in tests.
type Metrics struct {
	polls            *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	invoiceCommits   *prometheus.CounterVec
	returnsCompleted prometheus.Counter
	purchases        prometheus.Counter
	publishFailures  prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New registers the collectors against reg. When reg is nil the default
// registerer is used, once per process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		defaultOnce.Do(func() {
			defaultMetrics = build(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return build(reg)
}

func build(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_carrier_polls_total",
			Help: "Carrier tracking polls by carrier and result (changed, unchanged, no_update, error)",
		}, []string{"carrier", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_delivery_transitions_total",
			Help: "Committed delivery status transitions by new status and direction",
		}, []string{"status", "direction"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderdesk_sweep_duration_seconds",
			Help:    "Duration of in-transit sweeps",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		invoiceCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_invoice_commits_total",
			Help: "Invoice batch commits by result",
		}, []string{"result"}),
		returnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderdesk_returns_completed_total",
			Help: "Returns moved to STOCKED",
		}),
		purchases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderdesk_purchases_recorded_total",
			Help: "Purchase lines recorded as cost lots",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderdesk_publish_failures_total",
			Help: "delivery_changed messages that could not be published after retries",
		}),
	}
	reg.MustRegister(m.polls, m.transitions, m.sweepDuration, m.invoiceCommits,
		m.returnsCompleted, m.purchases, m.publishFailures)
	return m
}

func (m *Metrics) Poll(carrier, result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(carrier, result).Inc()
}

func (m *Metrics) Transition(status, direction string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, direction).Inc()
}

func (m *Metrics) ObserveSweep(started time.Time) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) InvoiceCommit(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.invoiceCommits.WithLabelValues(result).Inc()
}

func (m *Metrics) ReturnCompleted() {
	if m == nil {
		return
	}
	m.returnsCompleted.Inc()
}

func (m *Metrics) PurchaseRecorded() {
	if m == nil {
		return
	}
	m.purchases.Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
