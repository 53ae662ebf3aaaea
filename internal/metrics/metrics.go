// Package metrics holds the Prometheus instruments of the fill watcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons recorded by RecordSkipped.
const (
	ReasonMissingSymbol = "missing_symbol"
	ReasonMissingPrice  = "missing_price"
	ReasonDuplicate     = "duplicate"
)

// Metrics holds all Prometheus metrics for the poller. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	PollsTotal         prometheus.Counter
	FetchErrors        prometheus.Counter
	FlattenErrors      prometheus.Counter
	RecordsFlattened   prometheus.Counter
	RecordsSkipped     *prometheus.CounterVec // labels: reason
	AccountingErrors   *prometheus.CounterVec // labels: kind
	Dispatches         prometheus.Counter
	DispatchErrors     prometheus.Counter
	SeenIdentities     prometheus.Gauge
	LastSuccessfulPoll prometheus.Gauge
	CycleDuration      prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_polls_total",
			Help: "Total poll cycles started",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_fetch_errors_total",
			Help: "Poll cycles aborted because the order fetch failed",
		}),
		FlattenErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_flatten_errors_total",
			Help: "Poll cycles aborted because the order payload could not be flattened",
		}),
		RecordsFlattened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_records_flattened_total",
			Help: "Order leg records produced by flattening",
		}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fillwatch_records_skipped_total",
			Help: "Records not processed (by reason)",
		}, []string{"reason"}),
		AccountingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fillwatch_accounting_errors_total",
			Help: "Trades rejected by the position tracker (by kind)",
		}, []string{"kind"}),
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_dispatches_total",
			Help: "Notifications handed to the notifier",
		}),
		DispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fillwatch_dispatch_errors_total",
			Help: "Notifications the notifier failed to deliver",
		}),
		SeenIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fillwatch_seen_identities",
			Help: "Size of the dedup set",
		}),
		LastSuccessfulPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fillwatch_last_successful_poll_timestamp_seconds",
			Help: "Unix time of the last cycle whose fetch succeeded",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fillwatch_cycle_duration_seconds",
			Help:    "Poll cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PollsTotal,
			m.FetchErrors,
			m.FlattenErrors,
			m.RecordsFlattened,
			m.RecordsSkipped,
			m.AccountingErrors,
			m.Dispatches,
			m.DispatchErrors,
			m.SeenIdentities,
			m.LastSuccessfulPoll,
			m.CycleDuration,
		)
	}
	return m
}

// IncPolls counts a poll cycle.
func (m *Metrics) IncPolls() {
	if m != nil {
		m.PollsTotal.Inc()
	}
}

// IncFetchErrors counts a failed order fetch.
func (m *Metrics) IncFetchErrors() {
	if m != nil {
		m.FetchErrors.Inc()
	}
}

// IncFlattenErrors counts a payload that could not be flattened.
func (m *Metrics) IncFlattenErrors() {
	if m != nil {
		m.FlattenErrors.Inc()
	}
}

// AddFlattened adds n to the flattened record count.
func (m *Metrics) AddFlattened(n int) {
	if m != nil {
		m.RecordsFlattened.Add(float64(n))
	}
}

// RecordSkipped counts a record skipped for reason.
func (m *Metrics) RecordSkipped(reason string) {
	if m != nil {
		m.RecordsSkipped.WithLabelValues(reason).Inc()
	}
}

// RecordAccountingError counts a trade the position book rejected.
func (m *Metrics) RecordAccountingError(kind string) {
	if m != nil {
		m.AccountingErrors.WithLabelValues(kind).Inc()
	}
}

// RecordDispatch counts a dispatch attempt and, when err is non-nil, a
// failed delivery.
func (m *Metrics) RecordDispatch(err error) {
	if m == nil {
		return
	}
	m.Dispatches.Inc()
	if err != nil {
		m.DispatchErrors.Inc()
	}
}

// SetSeen sets the size of the dedup set.
func (m *Metrics) SetSeen(n int) {
	if m != nil {
		m.SeenIdentities.Set(float64(n))
	}
}

// MarkPollSuccess records t as the last successful fetch.
func (m *Metrics) MarkPollSuccess(t time.Time) {
	if m != nil {
		m.LastSuccessfulPoll.Set(float64(t.Unix()))
	}
}

// ObserveCycle records the duration of a poll cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m != nil {
		m.CycleDuration.Observe(d.Seconds())
	}
}
