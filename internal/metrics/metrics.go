// Package metrics holds the auction's Prometheus counters. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	bidsSubmitted     *prometheus.CounterVec
	bidAccepts        *prometheus.CounterVec
	taskTransitions   *prometheus.CounterVec
	paymentChallenges prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		bidsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "bids_submitted_total",
			Help:      "Bid submissions by outcome.",
		}, []string{"result"}),
		bidAccepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "bid_accepts_total",
			Help:      "Accept-bid calls by outcome; conflict counts lost races.",
		}, []string{"result"}),
		taskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "task_transitions_total",
			Help:      "Task lifecycle calls by operation and outcome.",
		}, []string{"op", "result"}),
		paymentChallenges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Name:      "payment_challenges_total",
			Help:      "402 responses issued by the payment gate.",
		}),
	}
	reg.MustRegister(
		m.bidsSubmitted,
		m.bidAccepts,
		m.taskTransitions,
		m.paymentChallenges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) BidSubmitted(result string) {
	if m == nil {
		return
	}
	m.bidsSubmitted.WithLabelValues(result).Inc()
}

func (m *Metrics) BidAccept(result string) {
	if m == nil {
		return
	}
	m.bidAccepts.WithLabelValues(result).Inc()
}

func (m *Metrics) TaskTransition(op, result string) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(op, result).Inc()
}

func (m *Metrics) PaymentChallenge() {
	if m == nil {
		return
	}
	m.paymentChallenges.Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
