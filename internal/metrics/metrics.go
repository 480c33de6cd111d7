package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by the reservation core
type Metrics struct {
	registry *prometheus.Registry

	ReserveOutcomes  *prometheus.CounterVec
	ConfirmOutcomes  *prometheus.CounterVec
	VersionConflicts *prometheus.CounterVec
	Compensations    *prometheus.CounterVec
	RetryAttempts    *prometheus.HistogramVec
	SweeperReclaims  prometheus.Counter
	QueueAdmitted    *prometheus.CounterVec
	QueueWaiting     *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ReserveOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxoffice",
			Name:      "reserve_total",
			Help:      "Reserve calls by outcome.",
		}, []string{"outcome"}),
		ConfirmOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxoffice",
			Name:      "confirm_total",
			Help:      "Confirm calls by outcome.",
		}, []string{"outcome"}),
		VersionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxoffice",
			Name:      "version_conflicts_total",
			Help:      "Conditional seat writes rejected on a stale version.",
		}, []string{"operation"}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxoffice",
			Name:      "compensations_total",
			Help:      "Seats rolled back after a partial operation.",
		}, []string{"operation"}),
		RetryAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boxoffice",
			Name:      "retry_attempts",
			Help:      "Attempts taken by retried operations.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}, []string{"operation"}),
		SweeperReclaims: f.NewCounter(prometheus.CounterOpts{
			Namespace: "boxoffice",
			Name:      "sweeper_reclaimed_seats_total",
			Help:      "Expired holds returned to AVAILABLE by the sweeper.",
		}),
		QueueAdmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxoffice",
			Name:      "queue_admitted_total",
			Help:      "Queue tokens admitted per event.",
		}, []string{"event_id"}),
		QueueWaiting: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "boxoffice",
			Name:      "queue_waiting",
			Help:      "Tokens still waiting per event, sampled by the advancer.",
		}, []string{"event_id"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
