package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/gateway"
	"github.com/dukerupert/kcnuts/internal/pricing"
	"github.com/dukerupert/kcnuts/internal/telemetry"
	"github.com/shopspring/decimal"
)

// CheckoutService turns a cart into a pending order with a gateway
// payment intent.
type CheckoutService interface {
	// InitiateCheckout prices the cart, persists a pending order and asks
	// the gateway for a payment intent for the order's final amount.
	// Stock is checked but not reserved. A cart whose final amount rounds
	// to zero, including one fully covered by a coupon, fails with
	// ErrZeroAmount before anything is written; gateways cannot charge zero.
	InitiateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error)
}

// CheckoutParams contains the caller's cart and delivery details.
type CheckoutParams struct {
	Items           []domain.CartItem
	ShippingAddress domain.ShippingAddress
	CouponCode      string
	Caller          *domain.Identity
}

// CheckoutResult is what the client needs to open the gateway's payment
// flow.
type CheckoutResult struct {
	OrderID        string          `json:"orderId"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	Gateway        string          `json:"gateway"`
	Amount         decimal.Decimal `json:"amount"`
	AmountMinor    int64           `json:"amountMinor"`
	Currency       string          `json:"currency"`
	PublicKey      string          `json:"publicKey"`
	ClientSecret   string          `json:"clientSecret,omitempty"`

	// CouponRejected carries the reason a supplied coupon was not applied.
	CouponRejected string `json:"couponRejected,omitempty"`
}

// CheckoutConfig holds checkout tunables.
type CheckoutConfig struct {
	Currency string

	// GatewayTimeout bounds the intent creation call. A timed out call is
	// a failure and is not retried.
	GatewayTimeout time.Duration

	// PaymentCheckDelay schedules a payment.check event for each new order.
	// Zero disables it.
	PaymentCheckDelay time.Duration

	// Now overrides the clock used for order IDs.
	Now func() time.Time
}

type checkoutService struct {
	orders    domain.OrderStore
	pricing   *pricing.Engine
	gateway   gateway.Gateway
	publisher events.Publisher
	logger    *slog.Logger
	cfg       CheckoutConfig
}

// NewCheckoutService creates a new CheckoutService instance.
func NewCheckoutService(
	orders domain.OrderStore,
	engine *pricing.Engine,
	gw gateway.Gateway,
	publisher events.Publisher,
	logger *slog.Logger,
	cfg CheckoutConfig,
) CheckoutService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &checkoutService{
		orders:    orders,
		pricing:   engine,
		gateway:   gw,
		publisher: publisher,
		logger:    logger.With("component", "checkout"),
		cfg:       cfg,
	}
}

func (s *checkoutService) InitiateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	const op = "checkout.initiate"

	if params.Caller == nil {
		return nil, ErrLoginRequired
	}
	if len(params.Items) == 0 {
		s.countFailure(domain.ErrEmptyCart)
		return nil, domain.ErrEmptyCart
	}
	if telemetry.Business != nil {
		telemetry.Business.CheckoutStarted.WithLabelValues(params.Caller.Role).Inc()
	}

	priced, err := s.pricing.Price(ctx, params.Items, params.CouponCode, params.Caller)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}

	var couponRejected string
	if priced.CouponRejection != nil {
		couponRejected = domain.ErrorReason(priced.CouponRejection)
		s.logger.InfoContext(ctx, "checkout continuing without coupon",
			"user_id", params.Caller.ID,
			"coupon_code", params.CouponCode,
			"reason", couponRejected,
		)
		if telemetry.Business != nil {
			telemetry.Business.CouponRejected.WithLabelValues(couponRejected).Inc()
		}
	}

	amountMinor := gateway.ToMinorUnits(priced.Final)
	if amountMinor <= 0 {
		err := wrap(ErrZeroAmount, op, nil)
		if priced.Coupon != nil {
			err.Message = "Coupon " + priced.Coupon.Code + " covers the full order total; free orders cannot be checked out"
			err.Details = map[string]any{
				"couponCode": priced.Coupon.Code,
				"discount":   priced.Discount.StringFixed(2),
			}
		}
		s.countFailure(err)
		return nil, err
	}

	order := &domain.Order{
		OrderID:         "KC-" + strconv.FormatInt(s.cfg.Now().UnixMilli(), 10),
		UserID:          params.Caller.ID,
		Items:           priced.Items,
		TotalAmount:     priced.Subtotal,
		DiscountAmount:  priced.Discount,
		FinalAmount:     priced.Final,
		Currency:        s.cfg.Currency,
		Status:          domain.OrderPending,
		ShippingAddress: params.ShippingAddress,
		PaymentInfo:     domain.PaymentInfo{Status: domain.PaymentPending},
	}
	if priced.Coupon != nil {
		order.CouponID = &priced.Coupon.ID
		order.CouponCode = priced.Coupon.Code
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.countFailure(err)
		return nil, err
	}

	logger := s.logger.With("order_id", order.OrderID, "user_id", order.UserID)

	intent, err := s.createIntent(ctx, order, amountMinor)
	if err != nil {
		// The pending order stays for reconciliation.
		logger.ErrorContext(ctx, "payment intent creation failed",
			"gateway", s.gateway.Name(),
			"amount_minor", amountMinor,
			"error", err,
		)
		telemetry.CaptureError(ctx, err, map[string]any{
			"order_id": order.OrderID,
			"gateway":  s.gateway.Name(),
		})
		gwErr := wrap(ErrGatewayUnavailable, op, err)
		gwErr.Details = map[string]any{"orderId": order.OrderID}
		s.countFailure(gwErr)
		return nil, gwErr
	}

	if err := s.orders.AttachGatewayOrder(ctx, order.OrderID, intent.ID, s.gateway.Name()); err != nil {
		logger.ErrorContext(ctx, "failed to link gateway order",
			"gateway_order_id", intent.ID,
			"error", err,
		)
		s.countFailure(err)
		return nil, err
	}

	logger.InfoContext(ctx, "checkout initiated",
		"gateway", s.gateway.Name(),
		"gateway_order_id", intent.ID,
		"final_amount", order.FinalAmount.String(),
		"coupon_code", order.CouponCode,
	)

	if telemetry.Business != nil {
		telemetry.Business.CheckoutCompleted.WithLabelValues(s.gateway.Name()).Inc()
		telemetry.Business.OrderValue.WithLabelValues(order.Currency).Observe(float64(amountMinor))
		telemetry.Business.OrderItemCount.Observe(float64(len(order.Items)))
	}

	created := events.New(events.TypeOrderCreated, order.OrderID, order.UserID)
	created.Amount = order.FinalAmount.String()
	created.Currency = order.Currency
	created.Attributes = map[string]string{
		"gateway":          s.gateway.Name(),
		"gateway_order_id": intent.ID,
	}
	publish(ctx, s.publisher, logger, created)

	if s.cfg.PaymentCheckDelay > 0 {
		check := events.New(events.TypePaymentCheck, order.OrderID, order.UserID)
		publishDelayed(ctx, s.publisher, logger, check, s.cfg.PaymentCheckDelay)
	}

	return &CheckoutResult{
		OrderID:        order.OrderID,
		GatewayOrderID: intent.ID,
		Gateway:        s.gateway.Name(),
		Amount:         order.FinalAmount,
		AmountMinor:    amountMinor,
		Currency:       order.Currency,
		PublicKey:      s.gateway.PublicKey(),
		ClientSecret:   intent.ClientSecret,
		CouponRejected: couponRejected,
	}, nil
}

func (s *checkoutService) createIntent(ctx context.Context, order *domain.Order, amountMinor int64) (*gateway.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentParams{
		AmountMinor: amountMinor,
		Currency:    order.Currency,
		Receipt:     order.OrderID,
		Metadata: map[string]string{
			"order_id": order.OrderID,
			"user_id":  order.UserID,
		},
	})
	if telemetry.Business != nil {
		telemetry.Business.GatewayLatency.WithLabelValues(s.gateway.Name(), "create_intent").Observe(time.Since(start).Seconds())
	}
	return intent, err
}

func (s *checkoutService) countFailure(err error) {
	if telemetry.Business != nil {
		telemetry.Business.CheckoutFailed.WithLabelValues(domain.ErrorCode(err), domain.ErrorReason(err)).Inc()
	}
}
