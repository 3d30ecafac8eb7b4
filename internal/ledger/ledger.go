// Package ledger records every payment verification attempt. Entries are
// append-only: the package exposes no way to change or remove one.
package ledger

import (
	"context"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/google/uuid"
)

// Ledger validates and appends transaction rows.
type Ledger struct {
	store    domain.TransactionStore
	currency string
	now      func() time.Time
}

// New creates a ledger. currency is used for entries that do not set one.
func New(store domain.TransactionStore, currency string) *Ledger {
	return &Ledger{
		store:    store,
		currency: currency,
		now:      time.Now,
	}
}

// Append assigns an ID and timestamp to entry and stores it. The entry is
// not modified if validation fails.
func (l *Ledger) Append(ctx context.Context, entry *domain.Transaction) (string, error) {
	const op = "ledger.append"

	if err := validate(entry); err != nil {
		return "", err
	}

	row := *entry
	row.ID = uuid.New().String()
	row.CreatedAt = l.now().UTC()
	if row.Currency == "" {
		row.Currency = l.currency
	}

	if err := l.store.InsertTransaction(ctx, &row); err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, op, "failed to append ledger entry")
	}

	*entry = row
	return row.ID, nil
}

// ByOrder returns entries recorded against a local order ID.
func (l *Ledger) ByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	return l.store.ListTransactionsByOrder(ctx, orderID)
}

// ByGatewayRef returns entries matching a gateway order or payment ID.
func (l *Ledger) ByGatewayRef(ctx context.Context, ref string) ([]domain.Transaction, error) {
	return l.store.ListTransactionsByGatewayRef(ctx, ref)
}

// Recent returns the newest entries.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.ListRecentTransactions(ctx, limit)
}

func validate(entry *domain.Transaction) error {
	const op = "ledger.validate"
	var err error

	if entry.UserID == "" {
		err = domain.AddFieldError(err, "userId", "is required")
	}
	if entry.Gateway == "" {
		err = domain.AddFieldError(err, "gateway", "is required")
	}
	if !entry.Status.Valid() {
		err = domain.AddFieldError(err, "status", "must be initiated, success, failed or refunded")
	}
	if entry.Amount.IsNegative() {
		err = domain.AddFieldError(err, "amount", "cannot be negative")
	}
	if entry.Status == domain.TransactionFailed && entry.FailureReason == "" {
		err = domain.AddFieldError(err, "failureReason", "is required for failed entries")
	}

	if ve, ok := err.(*domain.ValidationError); ok {
		ve.Op = op
		return ve
	}
	return nil
}
