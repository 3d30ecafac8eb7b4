package reconcile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	orders []domain.Order
	before time.Time
	err    error
}

func (s *stubOrders) ListStalePending(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	s.before = before
	if s.err != nil {
		return nil, s.err
	}
	if len(s.orders) > limit {
		return s.orders[:limit], nil
	}
	return s.orders, nil
}

type stubLedger struct {
	byOrder map[string][]domain.Transaction
	recent  []domain.Transaction
}

func (s *stubLedger) ByOrder(_ context.Context, orderID string) ([]domain.Transaction, error) {
	return s.byOrder[orderID], nil
}

func (s *stubLedger) Recent(_ context.Context, limit int) ([]domain.Transaction, error) {
	return s.recent, nil
}

func strPtr(s string) *string { return &s }

func fixture() (*stubOrders, *stubLedger) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	orders := &stubOrders{orders: []domain.Order{
		{OrderID: "KC-1", UserID: "u1", FinalAmount: decimal.NewFromInt(500), Currency: "INR", CreatedAt: created},
		{OrderID: "KC-2", UserID: "u2", FinalAmount: decimal.NewFromInt(250), Currency: "INR", CreatedAt: created},
		{OrderID: "KC-3", UserID: "u3", FinalAmount: decimal.NewFromInt(90), Currency: "INR", CreatedAt: created},
	}}
	ledger := &stubLedger{
		byOrder: map[string][]domain.Transaction{
			"KC-2": {{OrderID: strPtr("KC-2"), Status: domain.TransactionFailed, FailureReason: "Signature mismatch"}},
			"KC-3": {
				{OrderID: strPtr("KC-3"), Status: domain.TransactionFailed},
				{OrderID: strPtr("KC-3"), Status: domain.TransactionSuccess, GatewayPaymentID: "pay_3"},
			},
		},
		recent: []domain.Transaction{
			{OrderID: strPtr("KC-3"), Gateway: "razorpay", GatewayPaymentID: "pay_3", Amount: decimal.NewFromInt(90), Currency: "INR", Status: domain.TransactionSuccess, CreatedAt: created},
			{Gateway: "razorpay", GatewayPaymentID: "pay_x", Amount: decimal.Zero, Currency: "INR", Status: domain.TransactionFailed, FailureReason: "Local order not found", CreatedAt: created},
		},
	}
	return orders, ledger
}

func newTestReconciler(orders OrderLister, ledger LedgerReader, pub events.Publisher) *Reconciler {
	r := New(orders, ledger, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRun_ClassifiesStaleOrders(t *testing.T) {
	orders, ledger := fixture()
	rec := &events.Recorder{}

	report, err := newTestReconciler(orders, ledger, rec).Run(context.Background(), Options{StaleAfter: 2 * time.Hour})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), orders.before)
	require.Len(t, report.Stale, 3)
	assert.Equal(t, FindingUnpaid, report.Stale[0].Finding)
	assert.Equal(t, FindingFailedAttempts, report.Stale[1].Finding)
	assert.Equal(t, FindingPaidNotConfirmed, report.Stale[2].Finding)
	assert.Equal(t, 2, report.Stale[2].Attempts)
	assert.Len(t, report.Recent, 2)
	assert.Zero(t, report.Scheduled)
	assert.Empty(t, rec.Delayed)
}

func TestRun_PublishSchedulesChecks(t *testing.T) {
	orders, ledger := fixture()
	rec := &events.Recorder{}

	report, err := newTestReconciler(orders, ledger, rec).Run(context.Background(), Options{Publish: true})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scheduled)
	require.Len(t, rec.Delayed, 3)
	for _, d := range rec.Delayed {
		assert.Equal(t, events.TypePaymentCheck, d.Event.Type)
		assert.Zero(t, d.Delay)
	}
	assert.Equal(t, "KC-1", rec.Delayed[0].Event.OrderID)
	assert.Equal(t, "u1", rec.Delayed[0].Event.UserID)
}

func TestRun_Errors(t *testing.T) {
	t.Run("store failure", func(t *testing.T) {
		_, ledger := fixture()
		orders := &stubOrders{err: errors.New("connection refused")}

		_, err := newTestReconciler(orders, ledger, nil).Run(context.Background(), Options{})
		assert.ErrorContains(t, err, "list stale orders")
	})

	t.Run("publish failure", func(t *testing.T) {
		orders, ledger := fixture()
		rec := &events.Recorder{Err: errors.New("channel closed")}

		_, err := newTestReconciler(orders, ledger, rec).Run(context.Background(), Options{Publish: true})
		assert.ErrorContains(t, err, "schedule check for KC-1")
	})
}

func TestReport_Render(t *testing.T) {
	orders, ledger := fixture()
	report, err := newTestReconciler(orders, ledger, nil).Run(context.Background(), Options{Publish: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.Render(&buf))

	out := buf.String()
	assert.Contains(t, out, "Stale pending orders (3)")
	assert.Contains(t, out, "KC-3")
	assert.Contains(t, out, "paid_not_confirmed")
	assert.Contains(t, out, "500.00 INR")
	assert.Contains(t, out, "pay_x")
	assert.Contains(t, out, "Scheduled 3 payment checks")
}
