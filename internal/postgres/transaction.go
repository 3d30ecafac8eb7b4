package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// The table rejects UPDATE and DELETE with a trigger.
type TransactionStore struct {
	db *pgxpool.Pool
}

// Compile-time check that TransactionStore implements domain.TransactionStore.
var _ domain.TransactionStore = (*TransactionStore)(nil)

// NewTransactionStore creates a new PostgreSQL-backed ledger store.
func NewTransactionStore(db *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionColumns = `id::text, user_id, order_id, gateway, gateway_order_id, gateway_payment_id,
	amount::text, currency, status, failure_reason, metadata, created_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t        domain.Transaction
		amount   string
		status   string
		metadata []byte
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.OrderID, &t.Gateway, &t.GatewayOrderID, &t.GatewayPaymentID,
		&amount, &t.Currency, &status, &t.FailureReason, &metadata, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TransactionStatus(status)
	if t.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &t, nil
}

// InsertTransaction appends a ledger row. The caller assigns ID and
// CreatedAt.
func (s *TransactionStore) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	const op = "transaction.insert"

	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return domain.Internal(err, op, "failed to encode metadata")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, order_id, gateway, gateway_order_id, gateway_payment_id,
			amount, currency, status, failure_reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.UserID, t.OrderID, t.Gateway, t.GatewayOrderID, t.GatewayPaymentID,
		decimalArg(t.Amount), t.Currency, string(t.Status), t.FailureReason, rawMetadata, t.CreatedAt,
	)
	if err != nil {
		return domain.Internal(err, op, "failed to append transaction")
	}
	return nil
}

func (s *TransactionStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list transactions")
	}
	txns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transaction, error) {
		t, err := scanTransaction(row)
		if err != nil {
			return domain.Transaction{}, err
		}
		return *t, nil
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list transactions")
	}
	return txns, nil
}

// ListTransactionsByOrder returns every attempt recorded against a local order.
func (s *TransactionStore) ListTransactionsByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	return s.list(ctx, "transaction.list_by_order",
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
}

// ListTransactionsByGatewayRef returns attempts matching a gateway order or
// payment reference.
func (s *TransactionStore) ListTransactionsByGatewayRef(ctx context.Context, ref string) ([]domain.Transaction, error) {
	return s.list(ctx, "transaction.list_by_gateway_ref",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE gateway_order_id = $1 OR gateway_payment_id = $1 ORDER BY created_at`, ref)
}

// ListRecentTransactions returns the latest attempts, newest first.
func (s *TransactionStore) ListRecentTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return s.list(ctx, "transaction.list_recent",
		`SELECT `+transactionColumns+` FROM transactions ORDER BY created_at DESC LIMIT $1`, limit)
}
