// Package metrics provides Prometheus metrics collection for speechquota.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/speechquota/ports"
)

const namespace = "speechquota"

// Admission outcomes used as the "outcome" label.
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Collector holds all Prometheus metrics for speechquota.
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Quota metrics
	Admissions         *prometheus.CounterVec
	CharactersConsumed *prometheus.CounterVec
	WaitSeconds        prometheus.Histogram
	WaitsActive        prometheus.Gauge
	LedgerErrors       *prometheus.CounterVec
	StreamClients      prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		Admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Admission decisions by plan and outcome",
			},
			[]string{"plan_id", "outcome"},
		),
		CharactersConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "characters_consumed_total",
				Help:      "Characters recorded against the usage ledger",
			},
			[]string{"plan_id"},
		),
		WaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_seconds",
				Help:      "Mandatory pre-generation wait imposed on admitted requests",
				Buckets:   []float64{0, 1, 2, 5, 10, 15, 30, 60},
			},
		),
		WaitsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "waits_active",
				Help:      "Number of accounts currently in a wait countdown",
			},
		),
		LedgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_errors_total",
				Help:      "Usage ledger failures by operation",
			},
			[]string{"op"},
		),
		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "wait_stream_clients",
				Help:      "Connected wait-stream websocket clients",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// RecordAdmission counts one admission decision.
func (c *Collector) RecordAdmission(planID, outcome string, chars int64, waitSeconds int) {
	if c == nil {
		return
	}
	c.Admissions.WithLabelValues(planID, outcome).Inc()
	if outcome == OutcomeAllowed {
		c.CharactersConsumed.WithLabelValues(planID).Add(float64(chars))
		c.WaitSeconds.Observe(float64(waitSeconds))
	}
}

// RecordLedgerError counts one failed ledger operation.
func (c *Collector) RecordLedgerError(op string) {
	if c == nil {
		return
	}
	c.LedgerErrors.WithLabelValues(op).Inc()
}

// WaitStarted and WaitFinished track the number of running countdowns.
func (c *Collector) WaitStarted() {
	if c != nil {
		c.WaitsActive.Inc()
	}
}

func (c *Collector) WaitFinished() {
	if c != nil {
		c.WaitsActive.Dec()
	}
}

// RecordConfigReload counts a reload attempt.
func (c *Collector) RecordConfigReload(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(time.Now().Unix()))
}

// NormalizePath bounds label cardinality for unmatched paths.
func NormalizePath(path string) string {
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}

// Ensure interface compliance.
var _ ports.QuotaMetrics = (*Collector)(nil)
