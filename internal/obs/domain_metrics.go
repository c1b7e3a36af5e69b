package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RefundMetrics groups the refund domain collectors.
type RefundMetrics struct {
	// Submissions counts refund submissions by issuer and outcome.
	Submissions *prometheus.CounterVec
	// ValidationFailures counts rejected refund requests by reason.
	ValidationFailures *prometheus.CounterVec
	// RefundedMinor accumulates the refunded amount in minor units.
	RefundedMinor prometheus.Counter
	// SubmitLatency records issuer round trips in milliseconds.
	SubmitLatency *prometheus.HistogramVec
	// DialogTransitions counts confirmation dialog state changes.
	DialogTransitions *prometheus.CounterVec
}

var (
	domainOnce    sync.Once
	domainMetrics *RefundMetrics
)

// MustRegisterDomainMetrics initialises the refund collectors once and registers them.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) *RefundMetrics {
	domainOnce.Do(func() {
		domainMetrics = NewRefundMetrics(namespace, reg)
	})
	return domainMetrics
}

// DomainMetrics returns the process-wide refund collectors, or nil before registration.
func DomainMetrics() *RefundMetrics {
	return domainMetrics
}

// NewRefundMetrics builds and registers a fresh set of refund collectors on reg.
func NewRefundMetrics(namespace string, reg prometheus.Registerer) *RefundMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &RefundMetrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_submissions_total",
			Help:      "Count of refund submissions by issuer and outcome.",
		}, []string{"issuer", "result"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_validation_failures_total",
			Help:      "Count of refund requests rejected before submission.",
		}, []string{"reason"}),
		RefundedMinor: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_amount_minor_total",
			Help:      "Total refunded amount applied to order items, in minor units.",
		}),
		SubmitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refund_submit_duration_ms",
			Help:      "Latency of refund-issuing calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"issuer", "result"}),
		DialogTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_dialog_transitions_total",
			Help:      "Count of refund confirmation dialog state transitions.",
		}, []string{"from", "to"}),
	}
	mustRegisterCollector(reg, m.Submissions, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Submissions = v
		}
	})
	mustRegisterCollector(reg, m.ValidationFailures, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.ValidationFailures = v
		}
	})
	mustRegisterCollector(reg, m.RefundedMinor, func(existing prometheus.Collector) {
		if v, ok := existing.(prometheus.Counter); ok {
			m.RefundedMinor = v
		}
	})
	mustRegisterCollector(reg, m.SubmitLatency, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			m.SubmitLatency = v
		}
	})
	mustRegisterCollector(reg, m.DialogTransitions, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.DialogTransitions = v
		}
	})
	return m
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
