package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/kcnuts/internal/coupon"
	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/dukerupert/kcnuts/internal/pricing"
	"github.com/shopspring/decimal"
)

// CouponService previews coupon discounts and manages coupon records.
type CouponService interface {
	// Apply previews the discount a code gives on cartTotal. It never
	// changes the coupon's usage count.
	Apply(ctx context.Context, code string, cartTotal decimal.Decimal, caller *domain.Identity) (*CouponQuote, error)

	Create(ctx context.Context, params CreateCouponParams) (*domain.Coupon, error)
	List(ctx context.Context) ([]domain.Coupon, error)
}

// CouponQuote is the result of a coupon preview.
type CouponQuote struct {
	Code          string              `json:"code"`
	DiscountType  domain.DiscountType `json:"discountType"`
	DiscountValue decimal.Decimal     `json:"discountValue"`
	Discount      decimal.Decimal     `json:"discount"`
	FinalTotal    decimal.Decimal     `json:"finalTotal"`
}

// CreateCouponParams contains the fields an administrator sets on a new
// coupon.
type CreateCouponParams struct {
	Code              string
	DiscountType      domain.DiscountType
	DiscountValue     decimal.Decimal
	MinOrderValue     decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	ValidFrom         time.Time
	ValidUntil        time.Time
	UsageLimit        int
	ApplicableTo      domain.Applicability
	AssignedUsers     []string
	IsActive          bool
}

type couponService struct {
	coupons domain.CouponStore
	pricing *pricing.Engine
	logger  *slog.Logger
}

// NewCouponService creates a new CouponService instance
func NewCouponService(coupons domain.CouponStore, engine *pricing.Engine, logger *slog.Logger) CouponService {
	return &couponService{
		coupons: coupons,
		pricing: engine,
		logger:  logger.With("component", "coupons"),
	}
}

func (s *couponService) Apply(ctx context.Context, code string, cartTotal decimal.Decimal, caller *domain.Identity) (*CouponQuote, error) {
	const op = "coupon.apply"

	if cartTotal.IsNegative() {
		return nil, domain.NewValidationError(op, "cartTotal", "cannot be negative")
	}

	c, discount, err := s.pricing.Quote(ctx, code, cartTotal, caller)
	if err != nil {
		return nil, err
	}

	return &CouponQuote{
		Code:          c.Code,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
		Discount:      discount,
		FinalTotal:    cartTotal.Sub(discount),
	}, nil
}

func (s *couponService) Create(ctx context.Context, params CreateCouponParams) (*domain.Coupon, error) {
	applicableTo := params.ApplicableTo
	if applicableTo == "" {
		applicableTo = domain.ApplicableAll
	}

	c := &domain.Coupon{
		Code:              coupon.NormalizeCode(params.Code),
		DiscountType:      params.DiscountType,
		DiscountValue:     params.DiscountValue,
		MinOrderValue:     params.MinOrderValue,
		MaxDiscountAmount: params.MaxDiscountAmount,
		ValidFrom:         params.ValidFrom,
		ValidUntil:        params.ValidUntil,
		UsageLimit:        params.UsageLimit,
		ApplicableTo:      applicableTo,
		AssignedUsers:     params.AssignedUsers,
		IsActive:          params.IsActive,
	}
	if c.ApplicableTo == domain.ApplicableAll {
		c.AssignedUsers = nil
	}

	if err := coupon.Validate(c); err != nil {
		return nil, err
	}
	if err := s.coupons.CreateCoupon(ctx, c); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "coupon created",
		"code", c.Code,
		"discount_type", c.DiscountType,
		"usage_limit", c.UsageLimit,
	)
	return c, nil
}

func (s *couponService) List(ctx context.Context) ([]domain.Coupon, error) {
	coupons, err := s.coupons.ListCoupons(ctx)
	if err != nil {
		return nil, err
	}
	if coupons == nil {
		coupons = []domain.Coupon{}
	}
	return coupons, nil
}
