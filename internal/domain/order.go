package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus is the state of the order's payment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// OrderItem is a line snapshot taken at checkout time.
type OrderItem struct {
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId"`
	ProductName string          `json:"productName"`
	Weight      string          `json:"weight"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
}

// LineTotal is unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingAddress is a snapshot of the delivery address.
type ShippingAddress struct {
	Name    string `json:"name,omitempty" validate:"omitempty,max=120"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Street  string `json:"street" validate:"required,max=255"`
	City    string `json:"city" validate:"required,max=100"`
	State   string `json:"state" validate:"required,max=100"`
	Zip     string `json:"zip" validate:"required,max=20"`
	Country string `json:"country" validate:"required,max=100"`
	Type    string `json:"type,omitempty" validate:"omitempty,oneof=home work other"`
}

// PaymentInfo links an order to its gateway-side records.
type PaymentInfo struct {
	GatewayOrderID   string        `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string        `json:"gatewayPaymentId,omitempty"`
	Status           PaymentStatus `json:"status"`
	Method           string        `json:"method,omitempty"`
}

// Order is a durable record of a checkout.
type Order struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	UserID          string          `json:"userId"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	Currency        string          `json:"currency"`
	CouponID        *string         `json:"couponId,omitempty"`
	CouponCode      string          `json:"couponCode,omitempty"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentInfo     PaymentInfo     `json:"paymentInfo"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StockShortfall records a line whose stock could not be decremented at
// confirmation time.
type StockShortfall struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// ConfirmPaymentParams describes a verified payment to apply to an order.
type ConfirmPaymentParams struct {
	OrderID     string
	PaymentInfo PaymentInfo

	// DecrementStock and RedeemCoupon apply conditional inventory and
	// coupon updates on the first pending -> processing transition.
	DecrementStock bool
	RedeemCoupon   bool
}

// ConfirmPaymentResult reports what the confirmation changed.
type ConfirmPaymentResult struct {
	PreviousStatus OrderStatus
	Transitioned   bool
	Shortfalls     []StockShortfall
	CouponRedeemed bool
}

// ListOrdersParams filters the admin order listing.
type ListOrdersParams struct {
	Status OrderStatus
	Limit  int
	Offset int
}

// OrderStore persists orders.
type OrderStore interface {
	// CreateOrder inserts a pending order. A duplicate OrderID yields
	// ECONFLICT with reason order_id_collision.
	CreateOrder(ctx context.Context, o *Order) error

	// AttachGatewayOrder records the gateway's reference on a pending order.
	AttachGatewayOrder(ctx context.Context, orderID, gatewayOrderID, gateway string) error

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]Order, error)

	// ListStalePending returns pending orders created before the cutoff.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Order, error)

	// ConfirmPayment marks the order paid inside a single transaction.
	// Orders that are not pending or processing are left untouched.
	ConfirmPayment(ctx context.Context, params ConfirmPaymentParams) (*ConfirmPaymentResult, error)

	// UpdateStatus moves an order from one status to another, failing with
	// ECONFLICT if the current status is no longer from.
	UpdateStatus(ctx context.Context, orderID string, from, to OrderStatus) error
}
