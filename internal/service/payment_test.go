package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/dukerupert/kcnuts/internal/gateway"
	"github.com/dukerupert/kcnuts/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret"

type paymentFixture struct {
	catalog  *memCatalog
	coupons  *memCoupons
	orders   *memOrders
	ledger   *memTransactions
	gateway  *gateway.MockGateway
	recorder *events.Recorder
	service  PaymentService
}

func newPaymentFixture(t *testing.T, cfg PaymentConfig) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		catalog:  newMemCatalog(cashews()),
		coupons:  newMemCoupons(flatCoupon("SAVE50", "50", "100")),
		ledger:   &memTransactions{},
		gateway:  gateway.NewMockGateway(testSecret),
		recorder: &events.Recorder{},
	}
	f.orders = newMemOrders(f.catalog, f.coupons)
	if cfg.GatewayTimeout == 0 {
		cfg.GatewayTimeout = time.Second
	}
	f.service = NewPaymentService(f.orders, f.gateway, ledger.New(f.ledger, "INR"), f.recorder, discardLogger(), cfg)

	couponID := "coupon-SAVE50"
	f.orders.put(&domain.Order{
		ID:             "id-KC-1",
		OrderID:        "KC-1",
		UserID:         "user-1",
		Items:          []domain.OrderItem{{ProductID: "p-cashew", VariantID: "v-500", ProductName: "Cashews", Weight: "500g", Quantity: 2, Price: dec("100"), Discount: dec("0")}},
		TotalAmount:    dec("200"),
		DiscountAmount: dec("50"),
		FinalAmount:    dec("150"),
		Currency:       "INR",
		CouponID:       &couponID,
		CouponCode:     "SAVE50",
		Status:         domain.OrderPending,
		PaymentInfo:    domain.PaymentInfo{GatewayOrderID: "order_ABC", Status: domain.PaymentPending, Method: "mock"},
	})
	return f
}

func authenticParams() VerifyPaymentParams {
	return VerifyPaymentParams{
		GatewayOrderID:   "order_ABC",
		GatewayPaymentID: "pay_XYZ",
		Signature:        gateway.Sign(testSecret, "order_ABC", "pay_XYZ"),
		OrderID:          "KC-1",
		Caller:           customer("user-1"),
	}
}

func TestPaymentService_VerifyPayment_Authentic(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})

	result, err := f.service.VerifyPayment(context.Background(), authenticParams())

	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.False(t, result.AlreadyConfirmed)
	assert.Equal(t, domain.OrderProcessing, result.Status)
	assert.NotEmpty(t, result.TransactionID)

	order := f.orders.get("KC-1")
	assert.Equal(t, domain.OrderProcessing, order.Status)
	assert.Equal(t, domain.PaymentInfo{
		GatewayOrderID:   "order_ABC",
		GatewayPaymentID: "pay_XYZ",
		Status:           domain.PaymentSuccess,
		Method:           "mock",
	}, order.PaymentInfo)

	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TransactionSuccess, rows[0].Status)
	assert.True(t, dec("150").Equal(rows[0].Amount))
	require.NotNil(t, rows[0].OrderID)
	assert.Equal(t, "KC-1", *rows[0].OrderID)
	assert.Equal(t, "user-1", rows[0].UserID)
	assert.Equal(t, "mock", rows[0].Gateway)

	assert.Equal(t, []string{events.TypePaymentVerified}, f.recorder.Types())
}

func TestPaymentService_VerifyPayment_TamperedSignature(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	params := authenticParams()
	params.Signature = "tampered"

	result, err := f.service.VerifyPayment(context.Background(), params)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
	assert.Equal(t, "Payment verification failed", domain.ErrorMessage(err))

	order := f.orders.get("KC-1")
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, domain.PaymentPending, order.PaymentInfo.Status)
	assert.Zero(t, f.orders.writeCount())

	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TransactionFailed, rows[0].Status)
	assert.Equal(t, FailureSignatureMismatch, rows[0].FailureReason)
	assert.True(t, rows[0].Amount.IsZero(), "no money moved")
	require.NotNil(t, rows[0].OrderID)
	assert.Equal(t, "KC-1", *rows[0].OrderID)
	assert.Equal(t, "150", rows[0].Metadata["order_amount"])

	assert.Equal(t, []string{events.TypePaymentFailed}, f.recorder.Types())
}

func TestPaymentService_VerifyPayment_EverySignatureMutationFails(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	valid := authenticParams().Signature

	for i := range valid {
		mutated := []byte(valid)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		params := authenticParams()
		params.Signature = string(mutated)

		_, err := f.service.VerifyPayment(context.Background(), params)

		require.ErrorIs(t, err, domain.ErrVerificationFailed, "mutation at %d", i)
	}

	assert.Equal(t, domain.OrderPending, f.orders.get("KC-1").Status)
	assert.Len(t, f.ledger.all(), len(valid))
}

func TestPaymentService_VerifyPayment_MismatchOnForeignOrderRecordsZero(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	params := authenticParams()
	params.Signature = "tampered"
	params.Caller = customer("someone-else")

	_, err := f.service.VerifyPayment(context.Background(), params)

	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.IsZero())
	assert.Nil(t, rows[0].OrderID)
	assert.Equal(t, "KC-1", rows[0].Metadata["requested_order_id"])
	assert.NotContains(t, rows[0].Metadata, "order_amount")
}

func TestPaymentService_VerifyPayment_Replay(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{DecrementStock: true, RedeemCoupon: true})

	first, err := f.service.VerifyPayment(context.Background(), authenticParams())
	require.NoError(t, err)
	afterFirst := f.orders.get("KC-1")

	second, err := f.service.VerifyPayment(context.Background(), authenticParams())
	require.NoError(t, err)
	afterSecond := f.orders.get("KC-1")

	assert.False(t, first.AlreadyConfirmed)
	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, domain.OrderProcessing, afterSecond.Status)
	assert.Equal(t, afterFirst.PaymentInfo, afterSecond.PaymentInfo)

	// Inventory and coupon effects happen once.
	assert.Equal(t, 8, f.catalog.stock("p-cashew", "v-500"))
	assert.Equal(t, 1, f.coupons.usedCount("SAVE50"))

	rows := f.ledger.all()
	require.Len(t, rows, 2)
	assert.Equal(t, "true", rows[1].Metadata["replay"])
	assert.Equal(t, []string{events.TypePaymentVerified}, f.recorder.Types(), "replays publish nothing")
}

func TestPaymentService_VerifyPayment_ConfirmationFlags(t *testing.T) {
	tests := []struct {
		name        string
		cfg         PaymentConfig
		wantStock   int
		wantUsed    int
		explanation string
	}{
		{"both enabled", PaymentConfig{DecrementStock: true, RedeemCoupon: true}, 8, 1, "stock drops by the ordered quantity and the coupon is redeemed"},
		{"both disabled", PaymentConfig{}, 10, 0, "no reservation behaviour leaves stock and usage alone"},
		{"stock only", PaymentConfig{DecrementStock: true}, 8, 0, "coupon usage is untouched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t, tt.cfg)

			_, err := f.service.VerifyPayment(context.Background(), authenticParams())

			require.NoError(t, err)
			assert.Equal(t, tt.wantStock, f.catalog.stock("p-cashew", "v-500"), tt.explanation)
			assert.Equal(t, tt.wantUsed, f.coupons.usedCount("SAVE50"), tt.explanation)
		})
	}
}

func TestPaymentService_VerifyPayment_StockShortfall(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{DecrementStock: true})
	f.catalog.variants["p-cashew/v-500"].Stock = 1

	result, err := f.service.VerifyPayment(context.Background(), authenticParams())

	require.NoError(t, err, "a shortfall never undoes a verified payment")
	assert.Equal(t, domain.OrderProcessing, f.orders.get("KC-1").Status)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, 2, result.Shortfalls[0].Quantity)
	assert.Equal(t, 1, f.catalog.stock("p-cashew", "v-500"), "stock never goes negative")
	assert.Equal(t, []string{events.TypePaymentVerified, events.TypeInventoryShortfall}, f.recorder.Types())
}

func TestPaymentService_VerifyPayment_OrderLookupFailures(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(p *VerifyPaymentParams)
		wantReason string
	}{
		{
			name:       "unknown order",
			mutate:     func(p *VerifyPaymentParams) { p.OrderID = "KC-404" },
			wantReason: FailureOrderNotFound,
		},
		{
			name:       "order owned by someone else",
			mutate:     func(p *VerifyPaymentParams) { p.Caller = customer("user-2") },
			wantReason: FailureOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t, PaymentConfig{})
			params := authenticParams()
			tt.mutate(&params)

			_, err := f.service.VerifyPayment(context.Background(), params)

			assert.ErrorIs(t, err, ErrOrderNotFound)
			assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
			assert.Equal(t, domain.OrderPending, f.orders.get("KC-1").Status)

			rows := f.ledger.all()
			require.Len(t, rows, 1)
			assert.Equal(t, tt.wantReason, rows[0].FailureReason)
			assert.Nil(t, rows[0].OrderID)
		})
	}
}

func TestPaymentService_VerifyPayment_GatewayOrderMismatch(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	params := authenticParams()
	params.GatewayOrderID = "order_OTHER"
	params.Signature = gateway.Sign(testSecret, "order_OTHER", "pay_XYZ")

	_, err := f.service.VerifyPayment(context.Background(), params)

	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.Equal(t, domain.OrderPending, f.orders.get("KC-1").Status)
	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, FailureGatewayOrderMismatch, rows[0].FailureReason)
}

func TestPaymentService_VerifyPayment_CancelledOrder(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	order := f.orders.get("KC-1")
	order.Status = domain.OrderCancelled
	f.orders.put(&order)

	_, err := f.service.VerifyPayment(context.Background(), authenticParams())

	assert.ErrorIs(t, err, ErrOrderCancelled)
	assert.Equal(t, domain.OrderCancelled, f.orders.get("KC-1").Status)
	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TransactionSuccess, rows[0].Status, "the captured payment is kept for refund")
}

func TestPaymentService_VerifyPayment_ShippedOrderIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{DecrementStock: true})
	order := f.orders.get("KC-1")
	order.Status = domain.OrderShipped
	order.PaymentInfo = domain.PaymentInfo{GatewayOrderID: "order_ABC", GatewayPaymentID: "pay_XYZ", Status: domain.PaymentSuccess, Method: "mock"}
	f.orders.put(&order)

	result, err := f.service.VerifyPayment(context.Background(), authenticParams())

	require.NoError(t, err)
	assert.True(t, result.AlreadyConfirmed)
	assert.Equal(t, domain.OrderShipped, result.Status)
	assert.Equal(t, domain.OrderShipped, f.orders.get("KC-1").Status)
	assert.Zero(t, f.orders.writeCount())
	assert.Equal(t, 10, f.catalog.stock("p-cashew", "v-500"))
}

// racingOrders moves the order to another status just before the
// confirmation transaction takes its lock.
type racingOrders struct {
	*memOrders
	from, to domain.OrderStatus
}

func (r *racingOrders) ConfirmPayment(ctx context.Context, params domain.ConfirmPaymentParams) (*domain.ConfirmPaymentResult, error) {
	if err := r.memOrders.UpdateStatus(ctx, params.OrderID, r.from, r.to); err != nil {
		return nil, err
	}
	return r.memOrders.ConfirmPayment(ctx, params)
}

func TestPaymentService_VerifyPayment_CancelledDuringConfirmation(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	orders := &racingOrders{memOrders: f.orders, from: domain.OrderPending, to: domain.OrderCancelled}
	svc := NewPaymentService(orders, f.gateway, ledger.New(f.ledger, "INR"), f.recorder, discardLogger(),
		PaymentConfig{GatewayTimeout: time.Second, DecrementStock: true, RedeemCoupon: true})

	result, err := svc.VerifyPayment(context.Background(), authenticParams())

	require.ErrorIs(t, err, ErrOrderCancelled)
	assert.Nil(t, result)

	order := f.orders.get("KC-1")
	assert.Equal(t, domain.OrderCancelled, order.Status)
	assert.Equal(t, domain.PaymentPending, order.PaymentInfo.Status)
	assert.Equal(t, 10, f.catalog.stock("p-cashew", "v-500"))

	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TransactionSuccess, rows[0].Status)
	assert.Equal(t, "order cancelled", rows[0].Metadata["note"])
	assert.NotContains(t, f.recorder.Types(), events.TypePaymentVerified)
}

func TestPaymentService_VerifyPayment_ShippedDuringConfirmation(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	order := f.orders.get("KC-1")
	order.Status = domain.OrderProcessing
	order.PaymentInfo = domain.PaymentInfo{GatewayOrderID: "order_ABC", GatewayPaymentID: "pay_XYZ", Status: domain.PaymentSuccess, Method: "mock"}
	f.orders.put(&order)

	orders := &racingOrders{memOrders: f.orders, from: domain.OrderProcessing, to: domain.OrderShipped}
	svc := NewPaymentService(orders, f.gateway, ledger.New(f.ledger, "INR"), f.recorder, discardLogger(),
		PaymentConfig{GatewayTimeout: time.Second})

	result, err := svc.VerifyPayment(context.Background(), authenticParams())

	require.NoError(t, err)
	assert.True(t, result.AlreadyConfirmed)
	assert.Equal(t, domain.OrderShipped, result.Status, "status comes from the locked read")
	assert.Equal(t, domain.OrderShipped, f.orders.get("KC-1").Status)

	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "true", rows[0].Metadata["replay"])
}

func TestPaymentService_VerifyPayment_GatewayError(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	f.gateway.VerifySignatureFunc = func(ctx context.Context, params gateway.VerifyParams) error {
		return &gateway.Error{Provider: "mock", Message: "request failed", Code: "api_connection_error"}
	}

	_, err := f.service.VerifyPayment(context.Background(), authenticParams())

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, domain.OrderPending, f.orders.get("KC-1").Status)
	rows := f.ledger.all()
	require.Len(t, rows, 1)
	assert.Equal(t, FailureGatewayError, rows[0].FailureReason)
}

func TestPaymentService_VerifyPayment_NotCaptured(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	f.gateway.VerifySignatureFunc = func(ctx context.Context, params gateway.VerifyParams) error {
		return gateway.ErrPaymentNotCaptured
	}

	_, err := f.service.VerifyPayment(context.Background(), authenticParams())

	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
	assert.Equal(t, FailureNotCaptured, f.ledger.all()[0].FailureReason)
}

func TestPaymentService_VerifyPayment_LedgerFailureAfterConfirm(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	f.ledger.err = errors.New("disk full")

	result, err := f.service.VerifyPayment(context.Background(), authenticParams())

	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Empty(t, result.TransactionID)
	assert.Equal(t, domain.OrderProcessing, f.orders.get("KC-1").Status)
}

func TestPaymentService_VerifyPayment_ConcurrentCallbacks(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{DecrementStock: true, RedeemCoupon: true})

	var wg sync.WaitGroup
	results := make([]*VerifyResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.service.VerifyPayment(context.Background(), authenticParams())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	firsts := 0
	for _, r := range results {
		if r != nil && !r.AlreadyConfirmed {
			firsts++
		}
	}
	assert.Equal(t, 1, firsts, "exactly one callback performs the transition")
	assert.Equal(t, 8, f.catalog.stock("p-cashew", "v-500"))
	assert.Equal(t, 1, f.coupons.usedCount("SAVE50"))
	assert.Len(t, f.ledger.all(), 8)
}

func TestPaymentService_VerifyPayment_RequiresCaller(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	params := authenticParams()
	params.Caller = nil

	_, err := f.service.VerifyPayment(context.Background(), params)

	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.Empty(t, f.gateway.Calls())
	assert.Empty(t, f.ledger.all())
}
