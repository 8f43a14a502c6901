package crudclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aussiebroadwan/crudlink/pkg/failure"
)

// Metrics holds the Prometheus collectors for the request layer. A nil
// *Metrics records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	sharedTotal     *prometheus.CounterVec
	renewalsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pending         prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudlink_requests_total",
				Help: "Logical requests by method and result (success or failure outcome)",
			},
			[]string{"method", "result"},
		),
		attemptsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudlink_attempts_total",
				Help: "Dispatch attempts, including retries",
			},
			[]string{"method"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudlink_retries_total",
				Help: "Retries by reason (transient or unauthorized)",
			},
			[]string{"reason"},
		),
		failuresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudlink_failures_total",
				Help: "Final failures by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		sharedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudlink_deduplication_hits_total",
				Help: "Attempts that joined an in-flight identical request",
			},
			[]string{"method"},
		),
		renewalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "crudlink_credential_renewals_total",
				Help: "Credential renewal waits by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crudlink_request_duration_seconds",
				Help:    "Duration of logical requests in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		pending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "crudlink_requests_pending",
				Help: "In-flight entries in the deduplication registry",
			},
		),
	}
}

func (m *Metrics) observeRequest(method, result string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, result).Inc()
}

func (m *Metrics) observeAttempt(method string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeFailure(kind failure.Kind, outcome Outcome) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(string(kind), string(outcome)).Inc()
}

func (m *Metrics) observeShared(method string) {
	if m == nil {
		return
	}
	m.sharedTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) observeRenewal(trigger, result string) {
	if m == nil {
		return
	}
	m.renewalsTotal.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) observeDuration(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
