package api

import (
	"context"
	"net/http"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/handler"
)

// CartValidator checks cart lines against the catalog.
type CartValidator interface {
	Validate(ctx context.Context, items []domain.CartItem) (*domain.CartValidation, error)
}

type CartHandler struct {
	validator CartValidator
}

func NewCartHandler(v CartValidator) *CartHandler {
	return &CartHandler{validator: v}
}

type validateCartRequest struct {
	Items []cartItemRequest `json:"items" validate:"max=100,dive"`
}

// Validate handles POST /api/cart/validate. Every line is checked and
// failing lines are reported together.
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateCartRequest
	if err := handler.DecodeJSON(r, "cart.validate", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	result, err := h.validator.Validate(r.Context(), toCartItems(req.Items))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}
