package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/handler"
	"github.com/dukerupert/kcnuts/internal/middleware"
	"github.com/dukerupert/kcnuts/internal/service"
	"github.com/shopspring/decimal"
)

// CouponHandler serves coupon previews and coupon administration.
type CouponHandler struct {
	coupons service.CouponService
	logger  *slog.Logger
}

func NewCouponHandler(coupons service.CouponService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{coupons: coupons, logger: logger}
}

type applyCouponRequest struct {
	Code      string          `json:"code" validate:"required,max=64"`
	CartTotal decimal.Decimal `json:"cartTotal"`
}

// Apply handles POST /api/coupons/apply
func (h *CouponHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := handler.DecodeJSON(r, "coupon.apply", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	quote, err := h.coupons.Apply(r.Context(), req.Code, req.CartTotal, domain.IdentityFromContext(r.Context()))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, quote)
}

// AdminList handles GET /api/admin/coupons
func (h *CouponHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

type createCouponRequest struct {
	Code              string               `json:"code" validate:"required,max=64"`
	DiscountType      domain.DiscountType  `json:"discountType" validate:"required,oneof=percentage fixed"`
	DiscountValue     decimal.Decimal      `json:"discountValue"`
	MinOrderValue     decimal.Decimal      `json:"minOrderValue"`
	MaxDiscountAmount *decimal.Decimal     `json:"maxDiscountAmount,omitempty"`
	ValidFrom         time.Time            `json:"validFrom" validate:"required"`
	ValidUntil        time.Time            `json:"validUntil" validate:"required"`
	UsageLimit        int                  `json:"usageLimit" validate:"min=1"`
	ApplicableTo      domain.Applicability `json:"applicableTo,omitempty" validate:"omitempty,oneof=all specific_users"`
	AssignedUsers     []string             `json:"assignedUsers,omitempty" validate:"max=1000,dive,required"`
	IsActive          *bool                `json:"isActive,omitempty"`
}

// AdminCreate handles POST /api/admin/coupons
func (h *CouponHandler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := handler.DecodeJSON(r, "coupon.create", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	c, err := h.coupons.Create(r.Context(), service.CreateCouponParams{
		Code:              req.Code,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		MinOrderValue:     req.MinOrderValue,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
		UsageLimit:        req.UsageLimit,
		ApplicableTo:      req.ApplicableTo,
		AssignedUsers:     req.AssignedUsers,
		IsActive:          active,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context(), h.logger).Info("coupon created", "code", c.Code, "coupon_id", c.ID)
	handler.WriteJSON(w, http.StatusCreated, c)
}
