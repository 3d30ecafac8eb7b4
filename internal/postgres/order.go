package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	db *pgxpool.Pool
}

// Compile-time check that OrderStore implements domain.OrderStore.
var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new PostgreSQL-backed order store.
func NewOrderStore(db *pgxpool.Pool) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `id::text, order_id, user_id, items, total_amount::text, discount_amount::text,
	final_amount::text, currency, coupon_id::text, coupon_code, status, shipping_address,
	gateway_order_id, gateway_payment_id, payment_status, payment_method, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                      domain.Order
		items, address         []byte
		total, discount, final string
		status, paymentStatus  string
	)
	err := row.Scan(
		&o.ID, &o.OrderID, &o.UserID, &items, &total, &discount,
		&final, &o.Currency, &o.CouponID, &o.CouponCode, &status, &address,
		&o.PaymentInfo.GatewayOrderID, &o.PaymentInfo.GatewayPaymentID, &paymentStatus,
		&o.PaymentInfo.Method, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.PaymentInfo.Status = domain.PaymentStatus(paymentStatus)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if o.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if o.DiscountAmount, err = parseDecimal(discount); err != nil {
		return nil, err
	}
	if o.FinalAmount, err = parseDecimal(final); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// CreateOrder inserts a pending order and fills in its ID and timestamps.
func (s *OrderStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	const op = "order.create"

	items, err := json.Marshal(o.Items)
	if err != nil {
		return domain.Internal(err, op, "failed to encode order items")
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return domain.Internal(err, op, "failed to encode shipping address")
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO orders (order_id, user_id, items, total_amount, discount_amount, final_amount,
			currency, coupon_id, coupon_code, status, shipping_address, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id::text, created_at, updated_at`,
		o.OrderID, o.UserID, items, decimalArg(o.TotalAmount), decimalArg(o.DiscountAmount),
		decimalArg(o.FinalAmount), o.Currency, o.CouponID, o.CouponCode, string(o.Status),
		address, string(o.PaymentInfo.Status),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.Error{
				Code:    domain.ECONFLICT,
				Reason:  domain.ReasonOrderIDCollision,
				Op:      op,
				Message: "Order could not be created, please retry",
				Err:     err,
			}
		}
		return domain.Internal(err, op, "failed to create order")
	}
	return nil
}

// AttachGatewayOrder records the gateway order reference on a pending order.
func (s *OrderStore) AttachGatewayOrder(ctx context.Context, orderID, gatewayOrderID, gateway string) error {
	const op = "order.attach_gateway"

	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET gateway_order_id = $2, payment_method = $3, updated_at = now()
		WHERE order_id = $1 AND status = 'pending'`,
		orderID, gatewayOrderID, gateway,
	)
	if err != nil {
		return domain.Internal(err, op, "failed to link gateway order")
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound(op, domain.ReasonOrderNotFound, "pending order", orderID)
	}
	return nil
}

// GetOrder loads an order by its human-readable ID.
func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	const op = "order.get"

	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound(op, domain.ReasonOrderNotFound, "order", orderID)
		}
		return nil, domain.Internal(err, op, "failed to load order")
	}
	return o, nil
}

// ListOrdersByUser returns a user's orders, newest first.
func (s *OrderStore) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	const op = "order.list_by_user"

	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list orders")
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list orders")
	}
	return orders, nil
}

// ListOrders returns orders for the admin listing, optionally by status.
func (s *OrderStore) ListOrders(ctx context.Context, params domain.ListOrdersParams) ([]domain.Order, error) {
	const op = "order.list"

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		string(params.Status), limit, params.Offset,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list orders")
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list orders")
	}
	return orders, nil
}

// ListStalePending returns pending orders created before the cutoff,
// oldest first.
func (s *OrderStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	const op = "order.list_stale_pending"

	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list pending orders")
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list pending orders")
	}
	return orders, nil
}

// ConfirmPayment applies a verified payment. The order row is locked for
// the duration of the transaction so concurrent callbacks for the same
// order serialize. Inventory and coupon updates run only on the first
// pending -> processing transition and are conditional, so they never
// drive stock negative or usage past its limit.
func (s *OrderStore) ConfirmPayment(ctx context.Context, params domain.ConfirmPaymentParams) (*domain.ConfirmPaymentResult, error) {
	const op = "order.confirm_payment"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var (
		status   string
		rawItems []byte
		couponID *string
	)
	err = tx.QueryRow(ctx,
		`SELECT status, items, coupon_id::text FROM orders WHERE order_id = $1 FOR UPDATE`,
		params.OrderID,
	).Scan(&status, &rawItems, &couponID)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound(op, domain.ReasonOrderNotFound, "order", params.OrderID)
		}
		return nil, domain.Internal(err, op, "failed to lock order")
	}

	result := &domain.ConfirmPaymentResult{PreviousStatus: domain.OrderStatus(status)}
	if result.PreviousStatus != domain.OrderPending && result.PreviousStatus != domain.OrderProcessing {
		return result, nil
	}

	info := params.PaymentInfo
	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = 'processing', gateway_order_id = $2, gateway_payment_id = $3,
			payment_status = $4, payment_method = $5, updated_at = now()
		WHERE order_id = $1`,
		params.OrderID, info.GatewayOrderID, info.GatewayPaymentID, string(info.Status), info.Method,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update order")
	}

	if result.PreviousStatus == domain.OrderPending {
		result.Transitioned = true

		if params.DecrementStock {
			var items []domain.OrderItem
			if err := json.Unmarshal(rawItems, &items); err != nil {
				return nil, domain.Internal(err, op, "failed to decode order items")
			}
			for _, item := range items {
				tag, err := tx.Exec(ctx, `
					UPDATE product_variants SET stock = stock - $3
					WHERE product_id = $1 AND id = $2 AND stock >= $3`,
					item.ProductID, item.VariantID, item.Quantity,
				)
				if err != nil {
					return nil, domain.Internal(err, op, "failed to decrement stock")
				}
				if tag.RowsAffected() == 0 {
					result.Shortfalls = append(result.Shortfalls, domain.StockShortfall{
						ProductID: item.ProductID,
						VariantID: item.VariantID,
						Quantity:  item.Quantity,
					})
				}
			}
		}

		if params.RedeemCoupon && couponID != nil {
			tag, err := tx.Exec(ctx,
				`UPDATE coupons SET used_count = used_count + 1 WHERE id = $1 AND used_count < usage_limit`,
				*couponID,
			)
			if err != nil {
				return nil, domain.Internal(err, op, "failed to redeem coupon")
			}
			result.CouponRedeemed = tag.RowsAffected() == 1
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Internal(err, op, "failed to commit payment confirmation")
	}
	return result, nil
}

// UpdateStatus performs a compare-and-set status change.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	const op = "order.update_status"

	tag, err := s.db.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE order_id = $1 AND status = $2`,
		orderID, string(from), string(to),
	)
	if err != nil {
		return domain.Internal(err, op, "failed to update order status")
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict(op, domain.ReasonInvalidTransition, "Order status changed concurrently, reload and retry")
	}
	return nil
}
