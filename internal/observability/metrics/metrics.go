package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking workflow.
type BookingMetrics struct {
	transitions     *prometheus.CounterVec
	holds           *prometheus.CounterVec
	windowsReturned *prometheus.HistogramVec
	navigation      *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	discarded       prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "stage_transitions_total",
			Help:      "Booking session transitions by target stage",
		}, []string{"stage"}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "holds_total",
			Help:      "Hold requests by result",
		}, []string{"result"}),
		windowsReturned: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "windows_returned",
			Help:      "Windows produced per aggregation",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"available"}),
		navigation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "navigation_events_total",
			Help:      "Payment navigation events by observer decision",
		}, []string{"decision"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "payment_outcomes_total",
			Help:      "Terminal payment outcomes",
		}, []string{"gateway", "outcome", "reason"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "sessions_discarded_total",
			Help:      "Persisted sessions discarded as corrupt or partial",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.holds, m.windowsReturned, m.navigation, m.outcomes, m.discarded)
	return m
}

func (m *BookingMetrics) ObserveTransition(stage string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(stage).Inc()
}

func (m *BookingMetrics) ObserveHold(result string) {
	if m == nil {
		return
	}
	m.holds.WithLabelValues(result).Inc()
}

// ObserveWindows records how many windows an aggregation produced and how
// many of them were bookable.
func (m *BookingMetrics) ObserveWindows(total, available int) {
	if m == nil {
		return
	}
	m.windowsReturned.WithLabelValues("all").Observe(float64(total))
	m.windowsReturned.WithLabelValues("true").Observe(float64(available))
}

func (m *BookingMetrics) ObserveNavigation(decision string) {
	if m == nil {
		return
	}
	m.navigation.WithLabelValues(decision).Inc()
}

func (m *BookingMetrics) ObserveOutcome(gateway, outcome, reason string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(gateway, outcome, reason).Inc()
}

func (m *BookingMetrics) ObserveDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}
