package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the outcome recorded for a payment attempt.
type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "initiated"
	TransactionSuccess   TransactionStatus = "success"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionInitiated, TransactionSuccess, TransactionFailed, TransactionRefunded:
		return true
	}
	return false
}

// Transaction is an immutable ledger row for one payment attempt.
type Transaction struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId"`
	OrderID          *string           `json:"orderId,omitempty"`
	Gateway          string            `json:"gateway"`
	GatewayOrderID   string            `json:"gatewayOrderId"`
	GatewayPaymentID string            `json:"gatewayPaymentId"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	Status           TransactionStatus `json:"status"`
	FailureReason    string            `json:"failureReason,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// TransactionStore is the persistence contract for the ledger. It exposes
// no update or delete.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, t *Transaction) error
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error)
	ListTransactionsByGatewayRef(ctx context.Context, ref string) ([]Transaction, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]Transaction, error)
}
