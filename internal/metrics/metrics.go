package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// Saga holds the counters of the reservation saga. Components accept a
// nil *Saga and count into an unregistered set (see OrNop).
type Saga struct {
	Reservations    *prometheus.CounterVec // outcome
	ConflictRetries *prometheus.CounterVec // op
	Transitions     *prometheus.CounterVec // op, result
	Checkouts       *prometheus.CounterVec // result
	WebhookEvents   *prometheus.CounterVec // kind, result
	SweepReleased   prometheus.Counter
	SweepFailed     prometheus.Counter
	PaymentLatency  prometheus.Histogram
}

// NewSaga creates the collectors and registers them on reg when reg is
// not nil.
func NewSaga(reg prometheus.Registerer) *Saga {
	m := &Saga{
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reservations_total",
			Help: "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		ConflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "version_conflicts_total",
			Help: "Units of work retried after a version conflict.",
		}, []string{"op"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transaction_transitions_total",
			Help: "Confirm/release calls by result.",
		}, []string{"op", "result"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkouts_total",
			Help: "PlaceOrder calls by result.",
		}, []string{"result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_events_total",
			Help: "Payment provider callbacks by kind and result.",
		}, []string{"kind", "result"}),
		SweepReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "released_total",
			Help: "Stale transactions released.",
		}),
		SweepFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "failed_total",
			Help: "Stale transactions whose release failed.",
		}),
		PaymentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "payment_session_duration_ms",
			Help:    "Latency of payment session creation in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Reservations, m.ConflictRetries, m.Transitions, m.Checkouts,
			m.WebhookEvents, m.SweepReleased, m.SweepFailed, m.PaymentLatency)
	}
	return m
}

var nop = NewSaga(nil)

// OrNop returns m, or a shared unregistered set when m is nil.
func OrNop(m *Saga) *Saga {
	if m == nil {
		return nop
	}
	return m
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})
	if reg != nil {
		reg.MustRegister(requests, latency)
	}
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
