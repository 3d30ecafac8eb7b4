// Package reconcile compares stale pending orders against the payment
// ledger and can schedule payment checks for them.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/events"
	"github.com/olekukonko/tablewriter"
)

// Finding classifies a stale pending order.
type Finding string

const (
	// FindingUnpaid means the ledger has no successful payment.
	FindingUnpaid Finding = "unpaid"
	// FindingPaidNotConfirmed means the ledger recorded a capture but the
	// order never left pending.
	FindingPaidNotConfirmed Finding = "paid_not_confirmed"
	// FindingFailedAttempts means only failed attempts were recorded.
	FindingFailedAttempts Finding = "failed_attempts"
)

// OrderLister is the part of the order store the report needs.
type OrderLister interface {
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// LedgerReader is the part of the ledger the report needs.
type LedgerReader interface {
	ByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
	Recent(ctx context.Context, limit int) ([]domain.Transaction, error)
}

// Options controls a single run.
type Options struct {
	StaleAfter   time.Duration
	Limit        int
	RecentLimit  int
	Publish      bool
	PublishDelay time.Duration
}

// Row is one stale order with its ledger summary.
type Row struct {
	Order    domain.Order
	Finding  Finding
	Attempts int
}

// Report is the result of a run.
type Report struct {
	GeneratedAt time.Time
	Stale       []Row
	Recent      []domain.Transaction
	Scheduled   int
}

type Reconciler struct {
	orders    OrderLister
	ledger    LedgerReader
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func New(orders OrderLister, ledger LedgerReader, publisher events.Publisher, logger *slog.Logger) *Reconciler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Reconciler{
		orders:    orders,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger.With("component", "reconcile"),
		now:       time.Now,
	}
}

// Run builds the report. With Publish set, a payment.check event is
// scheduled for every stale order so the worker settles it.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 20
	}

	now := r.now().UTC()
	orders, err := r.orders.ListStalePending(ctx, now.Add(-opts.StaleAfter), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}

	report := &Report{GeneratedAt: now}
	for _, o := range orders {
		txs, err := r.ledger.ByOrder(ctx, o.OrderID)
		if err != nil {
			return nil, fmt.Errorf("ledger for %s: %w", o.OrderID, err)
		}
		row := Row{Order: o, Finding: classify(txs), Attempts: len(txs)}
		report.Stale = append(report.Stale, row)

		if row.Finding == FindingPaidNotConfirmed {
			r.logger.Warn("captured payment on pending order", "order_id", o.OrderID)
		}

		if opts.Publish {
			e := events.New(events.TypePaymentCheck, o.OrderID, o.UserID)
			if err := r.publisher.PublishDelayed(ctx, e, opts.PublishDelay); err != nil {
				return nil, fmt.Errorf("schedule check for %s: %w", o.OrderID, err)
			}
			report.Scheduled++
		}
	}

	report.Recent, err = r.ledger.Recent(ctx, opts.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	return report, nil
}

func classify(txs []domain.Transaction) Finding {
	if len(txs) == 0 {
		return FindingUnpaid
	}
	for _, tx := range txs {
		if tx.Status == domain.TransactionSuccess {
			return FindingPaidNotConfirmed
		}
	}
	return FindingFailedAttempts
}

// Render writes the report as two tables.
func (rep *Report) Render(w io.Writer) error {
	fmt.Fprintf(w, "Stale pending orders (%d) as of %s\n", len(rep.Stale), rep.GeneratedAt.Format(time.RFC3339))
	stale := tablewriter.NewWriter(w)
	stale.Header("Order", "User", "Amount", "Gateway Order", "Created", "Attempts", "Finding")
	for _, row := range rep.Stale {
		o := row.Order
		if err := stale.Append([]string{
			o.OrderID,
			o.UserID,
			o.FinalAmount.StringFixed(2) + " " + o.Currency,
			o.PaymentInfo.GatewayOrderID,
			o.CreatedAt.UTC().Format(time.RFC3339),
			fmt.Sprint(row.Attempts),
			string(row.Finding),
		}); err != nil {
			return err
		}
	}
	if err := stale.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRecent ledger entries (%d)\n", len(rep.Recent))
	recent := tablewriter.NewWriter(w)
	recent.Header("Created", "Order", "Gateway", "Payment Ref", "Amount", "Status", "Reason")
	for _, tx := range rep.Recent {
		orderID := "-"
		if tx.OrderID != nil {
			orderID = *tx.OrderID
		}
		if err := recent.Append([]string{
			tx.CreatedAt.UTC().Format(time.RFC3339),
			orderID,
			tx.Gateway,
			tx.GatewayPaymentID,
			tx.Amount.StringFixed(2) + " " + tx.Currency,
			string(tx.Status),
			tx.FailureReason,
		}); err != nil {
			return err
		}
	}
	if err := recent.Render(); err != nil {
		return err
	}

	if rep.Scheduled > 0 {
		fmt.Fprintf(w, "\nScheduled %d payment checks\n", rep.Scheduled)
	}
	return nil
}
