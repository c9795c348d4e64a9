// Package metrics exposes allocation counters and latencies to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	bookings    *prometheus.CounterVec
	bookLatency prometheus.Histogram
	matches     *prometheus.CounterVec
	discharges  *prometheus.CounterVec
	adjustments *prometheus.CounterVec
	orphans     prometheus.Counter
}

// New registers the allocation collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedalloc",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),
		bookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bedalloc",
			Name:      "booking_duration_seconds",
			Help:      "Time spent running the booking saga.",
			Buckets:   prometheus.DefBuckets,
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedalloc",
			Name:      "matches_total",
			Help:      "Match requests by outcome and the ladder rung that produced the result.",
		}, []string{"outcome", "rung"}),
		discharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedalloc",
			Name:      "discharges_total",
			Help:      "Discharge attempts by outcome.",
		}, []string{"outcome"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bedalloc",
			Name:      "capacity_adjustments_total",
			Help:      "Capacity adjustments by outcome.",
		}, []string{"outcome"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bedalloc",
			Name:      "orphaned_bookings_total",
			Help:      "Pending bookings left behind after a failed compensation.",
		}),
	}
	reg.MustRegister(
		m.bookings, m.bookLatency, m.matches, m.discharges, m.adjustments, m.orphans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveBooking(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
	m.bookLatency.Observe(d.Seconds())
}

// ObserveMatch counts a match. rung must come from a bounded set: a configured
// ladder radius, "requested" or "none".
func (m *Metrics) ObserveMatch(outcome, rung string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(outcome, rung).Inc()
}

func (m *Metrics) ObserveDischarge(outcome string) {
	if m == nil {
		return
	}
	m.discharges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAdjustment(outcome string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OrphanedBooking() {
	if m == nil {
		return
	}
	m.orphans.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
