package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteMutationsTotal counts quote mutations by operation and outcome.
	QuoteMutationsTotal *prometheus.CounterVec
	// PromoResolutionsTotal counts promo code resolutions by resolver source and outcome.
	PromoResolutionsTotal *prometheus.CounterVec
	// SnapshotRestoreTotal counts snapshot restore outcomes.
	SnapshotRestoreTotal *prometheus.CounterVec
	// CheckoutSubmitTotal counts checkout handoff outcomes.
	CheckoutSubmitTotal *prometheus.CounterVec
	// PaymentIntentTotal counts payment intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// EmailDispatchTotal counts confirmation email outcomes.
	EmailDispatchTotal *prometheus.CounterVec
	// ApplyCodeLatency records promo resolution latency in milliseconds.
	ApplyCodeLatency prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_mutations_total",
			Help:      "Count of quote mutations by operation and result.",
		}, []string{"op", "result"})
		PromoResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_resolutions_total",
			Help:      "Count of promo code resolutions by source and result.",
		}, []string{"source", "result"})
		SnapshotRestoreTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_restore_total",
			Help:      "Count of quote snapshot restores by result.",
		}, []string{"result"})
		CheckoutSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submit_total",
			Help:      "Count of checkout submissions by result.",
		}, []string{"result"})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent processing outcomes.",
		}, []string{"provider", "result"})
		EmailDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_dispatch_total",
			Help:      "Count of confirmation email dispatch outcomes.",
		}, []string{"mode", "result"})
		ApplyCodeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_code_duration_ms",
			Help:      "Latency for promo code resolution in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		})

		for _, vec := range []**prometheus.CounterVec{
			&QuoteMutationsTotal,
			&PromoResolutionsTotal,
			&SnapshotRestoreTotal,
			&CheckoutSubmitTotal,
			&PaymentIntentTotal,
			&EmailDispatchTotal,
		} {
			target := vec
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		mustRegisterCollector(reg, ApplyCodeLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				ApplyCodeLatency = v
			}
		})
	})
}

// IncQuoteMutation records a quote mutation outcome. Safe before registration.
func IncQuoteMutation(op, result string) {
	if QuoteMutationsTotal != nil {
		QuoteMutationsTotal.WithLabelValues(op, result).Inc()
	}
}

// IncPromoResolution records a promo resolution outcome. Safe before registration.
func IncPromoResolution(source, result string) {
	if PromoResolutionsTotal != nil {
		PromoResolutionsTotal.WithLabelValues(source, result).Inc()
	}
}

// IncSnapshotRestore records a snapshot restore outcome.
func IncSnapshotRestore(result string) {
	if SnapshotRestoreTotal != nil {
		SnapshotRestoreTotal.WithLabelValues(result).Inc()
	}
}

// IncCheckoutSubmit records a checkout submission outcome.
func IncCheckoutSubmit(result string) {
	if CheckoutSubmitTotal != nil {
		CheckoutSubmitTotal.WithLabelValues(result).Inc()
	}
}

// IncPaymentIntent records a payment intent outcome.
func IncPaymentIntent(provider, result string) {
	if PaymentIntentTotal != nil {
		PaymentIntentTotal.WithLabelValues(provider, result).Inc()
	}
}

// IncEmailDispatch records a confirmation email outcome.
func IncEmailDispatch(mode, result string) {
	if EmailDispatchTotal != nil {
		EmailDispatchTotal.WithLabelValues(mode, result).Inc()
	}
}

// ObserveApplyCode records promo resolution latency in milliseconds.
func ObserveApplyCode(ms float64) {
	if ApplyCodeLatency != nil {
		ApplyCodeLatency.Observe(ms)
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
