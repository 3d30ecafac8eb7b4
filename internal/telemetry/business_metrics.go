package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for the checkout and payment
// funnel. Gateway-facing metrics carry a gateway label so Razorpay and
// Stripe can be compared on one dashboard.
type BusinessMetrics struct {
	// Checkout funnel
	CheckoutStarted   *prometheus.CounterVec
	CheckoutCompleted *prometheus.CounterVec
	CheckoutFailed    *prometheus.CounterVec
	CouponRejected    *prometheus.CounterVec
	OrderValue        *prometheus.HistogramVec
	OrderItemCount    prometheus.Histogram

	// Payment verification
	PaymentVerified    *prometheus.CounterVec
	PaymentFailed      *prometheus.CounterVec
	RevenueCollected   *prometheus.CounterVec
	InventoryShortfall *prometheus.CounterVec
	CouponRedeemed     prometheus.Counter
	VerifyThrottled    prometheus.Counter

	// Orders
	OrderStatusChanged *prometheus.CounterVec
	AbandonedOrders    prometheus.Counter

	// Ledger
	LedgerAppendFailed *prometheus.CounterVec

	// Events
	EventsPublished     *prometheus.CounterVec
	EventsPublishFailed *prometheus.CounterVec

	// External API performance
	GatewayLatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "kcnuts"
	}

	subsystem := "business"

	return &BusinessMetrics{
		// =======================================================================
		// Checkout Funnel
		// =======================================================================
		CheckoutStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_started_total",
				Help:      "Total checkout initiations",
			},
			[]string{"role"},
		),
		CheckoutCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_completed_total",
				Help:      "Total checkouts that produced a pending order with a gateway reference",
			},
			[]string{"gateway"},
		),
		CheckoutFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_failed_total",
				Help:      "Total checkout failures by error code",
			},
			[]string{"code", "reason"},
		),
		CouponRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "coupon_rejected_total",
				Help:      "Total coupon rejections by reason",
			},
			[]string{"reason"}, // reason: invalid_code, expired, usage_exceeded, below_minimum, ...
		),
		OrderValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_minor",
				Help:      "Order final amount distribution in minor currency units",
				Buckets:   []float64{10000, 25000, 50000, 100000, 250000, 500000, 1000000},
			},
			[]string{"currency"},
		),
		OrderItemCount: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_item_count",
				Help:      "Number of lines per order",
				Buckets:   []float64{1, 2, 3, 5, 10, 20},
			},
		),

		// =======================================================================
		// Payment Verification
		// =======================================================================
		PaymentVerified: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_verified_total",
				Help:      "Total authentic payment callbacks",
			},
			[]string{"gateway", "replay"}, // replay: true, false
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total rejected payment callbacks",
			},
			[]string{"gateway", "failure_reason"},
		),
		RevenueCollected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_minor",
				Help:      "Total verified revenue in minor currency units",
			},
			[]string{"currency"},
		),
		InventoryShortfall: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inventory_shortfall_total",
				Help:      "Paid order lines whose stock could not be decremented",
			},
			[]string{"product_id"},
		),
		CouponRedeemed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "coupon_redeemed_total",
				Help:      "Coupon usages recorded on payment confirmation",
			},
		),
		VerifyThrottled: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "verify_throttled_total",
				Help:      "Verification requests rejected after repeated failures",
			},
		),

		// =======================================================================
		// Orders
		// =======================================================================
		OrderStatusChanged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_status_changed_total",
				Help:      "Administrative order status transitions",
			},
			[]string{"from", "to"},
		),
		AbandonedOrders: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "abandoned_orders_total",
				Help:      "Orders still pending when their payment check fired",
			},
		),

		// =======================================================================
		// Ledger
		// =======================================================================
		LedgerAppendFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ledger_append_failed_total",
				Help:      "Transaction ledger writes that failed",
			},
			[]string{"status"},
		),

		// =======================================================================
		// Events
		// =======================================================================
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_published_total",
				Help:      "Domain events published",
			},
			[]string{"type"},
		),
		EventsPublishFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_publish_failed_total",
				Help:      "Domain events that could not be published",
			},
			[]string{"type"},
		),

		// =======================================================================
		// External API Performance
		// =======================================================================
		GatewayLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_api_duration_seconds",
				Help:      "Payment gateway call duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"gateway", "operation"}, // operation: create_intent, verify
		),
	}
}

// Global instance for easy access from services and handlers.
// Nil until InitBusinessMetrics is called; callers check before use.
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
