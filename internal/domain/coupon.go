package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a coupon's value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Applicability restricts who may redeem a coupon.
type Applicability string

const (
	ApplicableAll           Applicability = "all"
	ApplicableSpecificUsers Applicability = "specific_users"
)

// Coupon is a promotional code. Codes are stored uppercase.
type Coupon struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	DiscountType      DiscountType     `json:"discountType"`
	DiscountValue     decimal.Decimal  `json:"discountValue"`
	MinOrderValue     decimal.Decimal  `json:"minOrderValue"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount,omitempty"`
	ValidFrom         time.Time        `json:"validFrom"`
	ValidUntil        time.Time        `json:"validUntil"`
	UsageLimit        int              `json:"usageLimit"`
	UsedCount         int              `json:"usedCount"`
	ApplicableTo      Applicability    `json:"applicableTo"`
	AssignedUsers     []string         `json:"assignedUsers,omitempty"`
	IsActive          bool             `json:"isActive"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// CouponStore persists coupons.
type CouponStore interface {
	// GetCouponByCode looks up a coupon by its normalized code.
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	CreateCoupon(ctx context.Context, c *Coupon) error
	ListCoupons(ctx context.Context) ([]Coupon, error)
}
