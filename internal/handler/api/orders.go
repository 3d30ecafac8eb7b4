// Package api implements the JSON endpoints of the checkout service.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/handler"
	"github.com/dukerupert/kcnuts/internal/middleware"
	"github.com/dukerupert/kcnuts/internal/service"
)

// OrderHandler serves checkout, payment verification and order listing.
type OrderHandler struct {
	checkout service.CheckoutService
	payments service.PaymentService
	orders   service.OrderService
	logger   *slog.Logger
}

func NewOrderHandler(
	checkout service.CheckoutService,
	payments service.PaymentService,
	orders service.OrderService,
	logger *slog.Logger,
) *OrderHandler {
	return &OrderHandler{
		checkout: checkout,
		payments: payments,
		orders:   orders,
		logger:   logger,
	}
}

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	VariantID string `json:"variantId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1,max=1000"`
}

func toCartItems(items []cartItemRequest) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	for i, item := range items {
		out[i] = domain.CartItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		}
	}
	return out
}

type checkoutRequest struct {
	// An empty cart is reported by the checkout service as empty_cart.
	Items           []cartItemRequest       `json:"items" validate:"max=100,dive"`
	ShippingAddress *domain.ShippingAddress `json:"shippingAddress" validate:"required"`
	CouponCode      string                  `json:"couponCode,omitempty" validate:"omitempty,max=64"`
}

// Checkout handles POST /api/orders/checkout
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := handler.DecodeJSON(r, "checkout.initiate", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	result, err := h.checkout.InitiateCheckout(r.Context(), service.CheckoutParams{
		Items:           toCartItems(req.Items),
		ShippingAddress: *req.ShippingAddress,
		CouponCode:      req.CouponCode,
		Caller:          domain.IdentityFromContext(r.Context()),
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context(), h.logger).Info("checkout initiated",
		"order_id", result.OrderID,
		"gateway_order_id", result.GatewayOrderID,
	)
	handler.WriteJSON(w, http.StatusCreated, result)
}

type verifyRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId" validate:"required,max=255"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required,max=255"`
	Signature        string `json:"signature" validate:"required,max=512"`
	OrderID          string `json:"orderId" validate:"required,max=64"`
}

// Verify handles POST /api/orders/verify
func (h *OrderHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := handler.DecodeJSON(r, "payment.verify", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	result, err := h.payments.VerifyPayment(r.Context(), service.VerifyPaymentParams{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		OrderID:          req.OrderID,
		Caller:           domain.IdentityFromContext(r.Context()),
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, result)
}

// ListMine handles GET /api/orders/mine
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMine(r.Context(), domain.IdentityFromContext(r.Context()))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// AdminList handles GET /api/admin/orders?status=&limit=&offset=
func (h *OrderHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := domain.ListOrdersParams{Status: domain.OrderStatus(q.Get("status"))}

	var err error
	if params.Limit, err = queryInt(q.Get("limit"), 50); err != nil {
		handler.ErrorResponse(w, r, domain.NewValidationError("order.list", "limit", "must be a number"))
		return
	}
	if params.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		handler.ErrorResponse(w, r, domain.NewValidationError("order.list", "offset", "must be a number"))
		return
	}

	orders, err := h.orders.ListAll(r.Context(), params)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status" validate:"required"`
}

// AdminUpdateStatus handles PUT /api/admin/orders/{orderID}/status
func (h *OrderHandler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := handler.DecodeJSON(r, "order.update_status", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), r.PathValue("orderID"), req.Status)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	identity := domain.IdentityFromContext(r.Context())
	middleware.GetLogger(r.Context(), h.logger).Info("order status changed by admin",
		"order_id", order.OrderID,
		"status", order.Status,
		"admin_id", identity.ID,
	)
	handler.WriteJSON(w, http.StatusOK, order)
}

func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
