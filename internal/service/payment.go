package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/gateway"
	"github.com/dukerupert/kcnuts/internal/ledger"
	"github.com/dukerupert/kcnuts/internal/telemetry"
	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
)

// Ledger failure reasons.
const (
	FailureSignatureMismatch    = "Signature mismatch"
	FailureNotCaptured          = "Payment not captured"
	FailureGatewayOrderMismatch = "Gateway order mismatch"
	FailureOrderNotFound        = "Local order not found"
	FailureGatewayError         = "Gateway verification error"
)

// PaymentService verifies gateway callbacks and marks orders paid. It is
// the only code path that sets an order's payment status to success.
type PaymentService interface {
	VerifyPayment(ctx context.Context, params VerifyPaymentParams) (*VerifyResult, error)
}

// VerifyPaymentParams is a gateway callback relayed by the client.
type VerifyPaymentParams struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	OrderID          string
	Caller           *domain.Identity
}

// VerifyResult reports the outcome of an authentic callback.
type VerifyResult struct {
	OrderID          string             `json:"orderId"`
	Confirmed        bool               `json:"confirmed"`
	AlreadyConfirmed bool               `json:"alreadyConfirmed"`
	Status           domain.OrderStatus `json:"status"`
	TransactionID    string             `json:"transactionId,omitempty"`

	Shortfalls []domain.StockShortfall `json:"-"`
}

// PaymentConfig holds verification tunables.
type PaymentConfig struct {
	GatewayTimeout time.Duration

	// DecrementStock and RedeemCoupon enable the conditional inventory and
	// coupon updates applied on first confirmation.
	DecrementStock bool
	RedeemCoupon   bool
}

type paymentService struct {
	orders    domain.OrderStore
	gateway   gateway.Gateway
	ledger    *ledger.Ledger
	publisher events.Publisher
	logger    *slog.Logger
	cfg       PaymentConfig
}

// NewPaymentService creates a new PaymentService instance.
func NewPaymentService(
	orders domain.OrderStore,
	gw gateway.Gateway,
	l *ledger.Ledger,
	publisher events.Publisher,
	logger *slog.Logger,
	cfg PaymentConfig,
) PaymentService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &paymentService{
		orders:    orders,
		gateway:   gw,
		ledger:    l,
		publisher: publisher,
		logger:    logger.With("component", "payment"),
		cfg:       cfg,
	}
}

func (s *paymentService) VerifyPayment(ctx context.Context, params VerifyPaymentParams) (*VerifyResult, error) {
	const op = "payment.verify"

	if params.Caller == nil {
		return nil, ErrLoginRequired
	}

	logger := s.logger.With(
		"order_id", params.OrderID,
		"gateway_order_id", params.GatewayOrderID,
		"gateway_payment_id", params.GatewayPaymentID,
		"user_id", params.Caller.ID,
	)

	if err := s.verifySignature(ctx, params); err != nil {
		reason := FailureGatewayError
		switch {
		case errors.Is(err, gateway.ErrSignatureMismatch):
			reason = FailureSignatureMismatch
		case errors.Is(err, gateway.ErrPaymentNotCaptured):
			reason = FailureNotCaptured
		}

		// Best effort: the row is tied only to the caller's own order.
		order, _ := s.ownedOrder(ctx, params.OrderID, params.Caller)
		s.recordFailure(ctx, logger, params, order, reason)

		if reason == FailureGatewayError {
			logger.ErrorContext(ctx, "gateway verification error", "error", err)
			telemetry.CaptureError(ctx, err, map[string]any{"order_id": params.OrderID})
			return nil, wrap(ErrGatewayUnavailable, op, err)
		}
		logger.WarnContext(ctx, "payment verification rejected", "reason", reason)
		return nil, wrap(domain.ErrVerificationFailed, op, err)
	}

	order, err := s.ownedOrder(ctx, params.OrderID, params.Caller)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			logger.WarnContext(ctx, "authentic callback for unknown order")
			s.recordFailure(ctx, logger, params, nil, FailureOrderNotFound)
		}
		return nil, err
	}

	// The signature proves the gateway refs belong together, not that they
	// belong to this order.
	if order.PaymentInfo.GatewayOrderID != params.GatewayOrderID {
		logger.WarnContext(ctx, "gateway order does not match local order",
			"expected_gateway_order_id", order.PaymentInfo.GatewayOrderID,
		)
		s.recordFailure(ctx, logger, params, order, FailureGatewayOrderMismatch)
		return nil, wrap(domain.ErrVerificationFailed, op, nil)
	}

	if res, closed, err := s.settleClosedOrder(ctx, logger, params, order, order.Status); closed {
		return res, err
	}

	result, err := s.orders.ConfirmPayment(ctx, domain.ConfirmPaymentParams{
		OrderID: order.OrderID,
		PaymentInfo: domain.PaymentInfo{
			GatewayOrderID:   params.GatewayOrderID,
			GatewayPaymentID: params.GatewayPaymentID,
			Status:           domain.PaymentSuccess,
			Method:           s.gateway.Name(),
		},
		DecrementStock: s.cfg.DecrementStock,
		RedeemCoupon:   s.cfg.RedeemCoupon,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to confirm payment", "error", err)
		return nil, err
	}
	// The status read above is not locked; the store reports what it saw
	// under the row lock and writes nothing for a closed order.
	if res, closed, err := s.settleClosedOrder(ctx, logger, params, order, result.PreviousStatus); closed {
		return res, err
	}

	metadata := map[string]string{}
	if !result.Transitioned {
		metadata["replay"] = "true"
	}
	txID := s.recordSuccess(ctx, logger, params, order, metadata)

	if result.Transitioned {
		s.afterFirstConfirmation(ctx, logger, order, result)
	}
	s.countVerified(!result.Transitioned)

	logger.InfoContext(ctx, "payment verified",
		"transaction_id", txID,
		"replay", !result.Transitioned,
		"final_amount", order.FinalAmount.String(),
	)

	return &VerifyResult{
		OrderID:          order.OrderID,
		Confirmed:        true,
		AlreadyConfirmed: !result.Transitioned,
		Status:           domain.OrderProcessing,
		TransactionID:    txID,
		Shortfalls:       result.Shortfalls,
	}, nil
}

// settleClosedOrder handles an authentic callback for an order that can no
// longer move to processing. closed is false for pending and processing.
func (s *paymentService) settleClosedOrder(ctx context.Context, logger *slog.Logger, params VerifyPaymentParams, order *domain.Order, status domain.OrderStatus) (*VerifyResult, bool, error) {
	const op = "payment.verify"

	switch status {
	case domain.OrderCancelled:
		// Money moved for an order that no longer exists logically; keep
		// the success row so refunds can be reconciled.
		txID := s.recordSuccess(ctx, logger, params, order, map[string]string{"note": "order cancelled"})
		logger.WarnContext(ctx, "payment received for cancelled order", "transaction_id", txID)
		telemetry.CaptureMessage(ctx, "payment received for cancelled order", sentry.LevelWarning, map[string]any{
			"order_id": order.OrderID,
		})
		return nil, true, wrap(ErrOrderCancelled, op, nil)

	case domain.OrderShipped, domain.OrderDelivered:
		txID := s.recordSuccess(ctx, logger, params, order, map[string]string{"replay": "true"})
		s.countVerified(true)
		return &VerifyResult{
			OrderID:          order.OrderID,
			Confirmed:        true,
			AlreadyConfirmed: true,
			Status:           status,
			TransactionID:    txID,
		}, true, nil
	}
	return nil, false, nil
}

func (s *paymentService) verifySignature(ctx context.Context, params VerifyPaymentParams) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	err := s.gateway.VerifySignature(ctx, gateway.VerifyParams{
		GatewayOrderID:   params.GatewayOrderID,
		GatewayPaymentID: params.GatewayPaymentID,
		Signature:        params.Signature,
	})
	if telemetry.Business != nil {
		telemetry.Business.GatewayLatency.WithLabelValues(s.gateway.Name(), "verify").Observe(time.Since(start).Seconds())
	}
	return err
}

// ownedOrder loads an order and hides orders that belong to someone else.
func (s *paymentService) ownedOrder(ctx context.Context, orderID string, caller *domain.Identity) (*domain.Order, error) {
	const op = "payment.load_order"

	if orderID == "" {
		return nil, wrap(ErrOrderNotFound, op, nil)
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, wrap(ErrOrderNotFound, op, err)
		}
		return nil, err
	}
	if order.UserID != caller.ID {
		return nil, wrap(ErrOrderNotFound, op, nil)
	}
	return order, nil
}

func (s *paymentService) afterFirstConfirmation(ctx context.Context, logger *slog.Logger, order *domain.Order, result *domain.ConfirmPaymentResult) {
	if telemetry.Business != nil {
		minor := gateway.ToMinorUnits(order.FinalAmount)
		telemetry.Business.RevenueCollected.WithLabelValues(order.Currency).Add(float64(minor))
		if result.CouponRedeemed {
			telemetry.Business.CouponRedeemed.Inc()
		}
	}
	if s.cfg.RedeemCoupon && order.CouponID != nil && !result.CouponRedeemed {
		logger.WarnContext(ctx, "coupon usage limit reached before confirmation", "coupon_code", order.CouponCode)
	}

	verified := events.New(events.TypePaymentVerified, order.OrderID, order.UserID)
	verified.Amount = order.FinalAmount.String()
	verified.Currency = order.Currency
	verified.Attributes = map[string]string{"gateway": s.gateway.Name()}
	publish(ctx, s.publisher, logger, verified)

	for _, short := range result.Shortfalls {
		logger.WarnContext(ctx, "stock shortfall on paid order",
			"product_id", short.ProductID,
			"variant_id", short.VariantID,
			"quantity", short.Quantity,
		)
		if telemetry.Business != nil {
			telemetry.Business.InventoryShortfall.WithLabelValues(short.ProductID).Inc()
		}
		e := events.New(events.TypeInventoryShortfall, order.OrderID, order.UserID)
		e.Attributes = map[string]string{
			"product_id": short.ProductID,
			"variant_id": short.VariantID,
			"quantity":   strconv.Itoa(short.Quantity),
		}
		publish(ctx, s.publisher, logger, e)
	}
	if len(result.Shortfalls) > 0 {
		telemetry.CaptureMessage(ctx, "stock shortfall on paid order", sentry.LevelWarning, map[string]any{
			"order_id":   order.OrderID,
			"shortfalls": len(result.Shortfalls),
		})
	}
}

func (s *paymentService) recordSuccess(ctx context.Context, logger *slog.Logger, params VerifyPaymentParams, order *domain.Order, metadata map[string]string) string {
	entry := &domain.Transaction{
		UserID:           params.Caller.ID,
		OrderID:          &order.OrderID,
		Gateway:          s.gateway.Name(),
		GatewayOrderID:   params.GatewayOrderID,
		GatewayPaymentID: params.GatewayPaymentID,
		Amount:           order.FinalAmount,
		Currency:         order.Currency,
		Status:           domain.TransactionSuccess,
		Metadata:         metadata,
	}
	id, err := s.ledger.Append(ctx, entry)
	if err != nil {
		// The order is already confirmed; a missing audit row is an
		// operator problem, not the payer's.
		logger.ErrorContext(ctx, "failed to append ledger entry", "status", "success", "error", err)
		telemetry.CaptureError(ctx, err, map[string]any{"order_id": order.OrderID})
		if telemetry.Business != nil {
			telemetry.Business.LedgerAppendFailed.WithLabelValues(string(domain.TransactionSuccess)).Inc()
		}
		return ""
	}
	return id
}

// recordFailure appends a failed ledger row. order may be nil when the
// callback cannot be tied to one of the caller's orders.
func (s *paymentService) recordFailure(ctx context.Context, logger *slog.Logger, params VerifyPaymentParams, order *domain.Order, reason string) {
	entry := &domain.Transaction{
		UserID:           params.Caller.ID,
		Gateway:          s.gateway.Name(),
		GatewayOrderID:   params.GatewayOrderID,
		GatewayPaymentID: params.GatewayPaymentID,
		Amount:           decimal.Zero,
		Status:           domain.TransactionFailed,
		FailureReason:    reason,
		Metadata:         map[string]string{"requested_order_id": params.OrderID},
	}
	// No money moved; the order total goes in metadata.
	if order != nil {
		entry.OrderID = &order.OrderID
		entry.Currency = order.Currency
		entry.Metadata["order_amount"] = order.FinalAmount.String()
	}

	if _, err := s.ledger.Append(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "failed to append ledger entry", "status", "failed", "error", err)
		telemetry.CaptureError(ctx, err, map[string]any{"order_id": params.OrderID})
		if telemetry.Business != nil {
			telemetry.Business.LedgerAppendFailed.WithLabelValues(string(domain.TransactionFailed)).Inc()
		}
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentFailed.WithLabelValues(s.gateway.Name(), reason).Inc()
	}

	e := events.New(events.TypePaymentFailed, params.OrderID, params.Caller.ID)
	e.Reason = reason
	e.Attributes = map[string]string{"gateway_order_id": params.GatewayOrderID}
	publish(ctx, s.publisher, logger, e)
}

func (s *paymentService) countVerified(replay bool) {
	if telemetry.Business != nil {
		telemetry.Business.PaymentVerified.WithLabelValues(s.gateway.Name(), strconv.FormatBool(replay)).Inc()
	}
}
