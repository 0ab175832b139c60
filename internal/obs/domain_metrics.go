package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentPayTotal counts outbound payment creation attempts by result.
	PaymentPayTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound notification processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// GatewayCallLatency records outbound gateway call latency in milliseconds.
	GatewayCallLatency *prometheus.HistogramVec
	// ReconcileRunsTotal counts reconciliation sweeps.
	ReconcileRunsTotal prometheus.Counter
	// ReconcileResolvedTotal counts payment requests resolved by query fallback.
	ReconcileResolvedTotal prometheus.Counter
	// ConflictingNotifyTotal counts notifications that conflicted with a terminal state.
	ConflictingNotifyTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentPayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_pay_total",
			Help:      "Count of outbound payment creation outcomes.",
		}, []string{"result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment notifications by outcome.",
		}, []string{"result"})
		GatewayCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency of outbound gateway calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"})
		ReconcileRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Total number of reconciliation sweeps.",
		})
		ReconcileResolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_resolved_total",
			Help:      "Payment requests resolved by the query fallback.",
		})
		ConflictingNotifyTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicting_notifications_total",
			Help:      "Notifications rejected because they conflicted with a terminal state.",
		})

		mustRegisterCollector(reg, PaymentPayTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentPayTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, GatewayCallLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayCallLatency = v
			}
		})
		mustRegisterCollector(reg, ReconcileRunsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileRunsTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileResolvedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ReconcileResolvedTotal = v
			}
		})
		mustRegisterCollector(reg, ConflictingNotifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ConflictingNotifyTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, c prometheus.Collector, replace func(prometheus.Collector)) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			replace(are.ExistingCollector)
			return
		}
		panic(fmt.Errorf("register domain collector: %w", err))
	}
}
