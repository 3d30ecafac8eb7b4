package service

import (
	"context"
	"log/slog"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/telemetry"
)

// OrderService provides order listing and administrative status changes.
type OrderService interface {
	// ListMine returns the caller's orders, newest first.
	ListMine(ctx context.Context, caller *domain.Identity) ([]domain.Order, error)

	// ListAll returns orders for administrators, optionally filtered by status.
	ListAll(ctx context.Context, params domain.ListOrdersParams) ([]domain.Order, error)

	// UpdateStatus moves an order along the status state machine. Orders
	// enter processing only through payment verification, so that target
	// is refused here.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
}

type orderService struct {
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderService creates a new OrderService instance
func NewOrderService(orders domain.OrderStore, logger *slog.Logger) OrderService {
	return &orderService{
		orders: orders,
		logger: logger.With("component", "orders"),
	}
}

func (s *orderService) ListMine(ctx context.Context, caller *domain.Identity) ([]domain.Order, error) {
	if caller == nil {
		return nil, ErrLoginRequired
	}
	orders, err := s.orders.ListOrdersByUser(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

func (s *orderService) ListAll(ctx context.Context, params domain.ListOrdersParams) ([]domain.Order, error) {
	const op = "order.list_all"

	if params.Status != "" && !params.Status.Valid() {
		return nil, domain.NewValidationError(op, "status", "unknown order status")
	}
	if params.Offset < 0 {
		return nil, domain.NewValidationError(op, "offset", "cannot be negative")
	}
	orders, err := s.orders.ListOrders(ctx, params)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	const op = "order.update_status"

	if !status.Valid() {
		return nil, domain.NewValidationError(op, "status", "unknown order status")
	}
	if status == domain.OrderProcessing {
		return nil, domain.Invalid(op, domain.ReasonInvalidTransition, "Orders move to processing only when payment is verified")
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if !from.CanTransitionTo(status) {
		e := wrap(ErrInvalidTransition, op, nil)
		e.Details = map[string]any{"from": string(from), "to": string(status)}
		return nil, e
	}

	if err := s.orders.UpdateStatus(ctx, orderID, from, status); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order status changed",
		"order_id", orderID,
		"from", from,
		"to", status,
	)
	if telemetry.Business != nil {
		telemetry.Business.OrderStatusChanged.WithLabelValues(string(from), string(status)).Inc()
	}

	order.Status = status
	return order, nil
}
