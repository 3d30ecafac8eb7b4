// Package coupon decides whether a promotional code applies to a cart and
// how much it takes off. Evaluation is pure: it never reads or writes
// storage and never touches the usage counter.
package coupon

import (
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/shopspring/decimal"
)

const op = "coupon.evaluate"

var hundred = decimal.NewFromInt(100)

// Rejection errors, one per rule. Compare with errors.Is.
var (
	ErrInvalidCode = &domain.Error{
		Code:    domain.EINVALID,
		Reason:  domain.ReasonCouponInvalid,
		Op:      op,
		Message: "Invalid or inactive coupon code",
	}
	ErrExpired = &domain.Error{
		Code:    domain.EINVALID,
		Reason:  domain.ReasonCouponExpired,
		Op:      op,
		Message: "Coupon is expired or not yet valid",
	}
	ErrUsageExceeded = &domain.Error{
		Code:    domain.EINVALID,
		Reason:  domain.ReasonCouponExhausted,
		Op:      op,
		Message: "Coupon usage limit reached",
	}
	ErrBelowMinimum = &domain.Error{
		Code:    domain.EINVALID,
		Reason:  domain.ReasonCouponBelowMinimum,
		Op:      op,
		Message: "Order total is below the coupon minimum",
	}
	ErrLoginRequired = &domain.Error{
		Code:    domain.EUNAUTHORIZED,
		Reason:  domain.ReasonCouponLogin,
		Op:      op,
		Message: "Please log in to use this coupon",
	}
	ErrNotEligible = &domain.Error{
		Code:    domain.EFORBIDDEN,
		Reason:  domain.ReasonCouponNotEligible,
		Op:      op,
		Message: "This coupon is not valid for your account",
	}
)

// NormalizeCode trims and uppercases a coupon code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate checks c against the cart subtotal and caller at time now and
// returns the discount. Rules are applied in order and the first failure
// is returned. A nil coupon is treated as an unknown code.
func Evaluate(c *domain.Coupon, subtotal decimal.Decimal, caller *domain.Identity, now time.Time) (decimal.Decimal, error) {
	if c == nil || !c.IsActive {
		return decimal.Zero, ErrInvalidCode
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return decimal.Zero, ErrExpired
	}
	if c.UsedCount >= c.UsageLimit {
		return decimal.Zero, ErrUsageExceeded
	}
	if subtotal.LessThan(c.MinOrderValue) {
		minimum := *ErrBelowMinimum
		minimum.Details = map[string]any{"minOrderValue": c.MinOrderValue.StringFixed(2)}
		return decimal.Zero, &minimum
	}
	if c.ApplicableTo == domain.ApplicableSpecificUsers {
		if caller == nil || caller.ID == "" {
			return decimal.Zero, ErrLoginRequired
		}
		if !slices.Contains(c.AssignedUsers, caller.ID) {
			return decimal.Zero, ErrNotEligible
		}
	}

	return Discount(c, subtotal), nil
}

// Discount computes the amount c takes off subtotal without checking
// eligibility. The result is rounded to the currency minor unit and never
// exceeds subtotal.
func Discount(c *domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case domain.DiscountPercentage:
		discount = subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount != nil && discount.GreaterThan(*c.MaxDiscountAmount) {
			discount = *c.MaxDiscountAmount
		}
	case domain.DiscountFixed:
		discount = c.DiscountValue
	}

	discount = discount.Round(2)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount
}
