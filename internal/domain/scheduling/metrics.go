package scheduling

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the booking counters exported on /metrics.
type Metrics struct {
	bookings        *prometheus.CounterVec
	commitConflicts prometheus.Counter
	searchLatency   *prometheus.HistogramVec
}

// NewMetrics registers the scheduling metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schedengine",
				Subsystem: "booking",
				Name:      "operations_total",
				Help:      "Booking operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		commitConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "schedengine",
				Subsystem: "booking",
				Name:      "commit_conflicts_total",
				Help:      "Writes rejected because the slot was taken concurrently",
			},
		),
		searchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "schedengine",
				Subsystem: "engine",
				Name:      "search_duration_seconds",
				Help:      "Slot search latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.bookings, m.commitConflicts, m.searchLatency)
	}
	return m
}

func (m *Metrics) observeBooking(op, result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observeConflict() {
	if m == nil {
		return
	}
	m.commitConflicts.Inc()
}

func (m *Metrics) observeSearch(outcome SearchOutcome, seconds float64) {
	if m == nil {
		return
	}
	m.searchLatency.WithLabelValues(string(outcome)).Observe(seconds)
}
