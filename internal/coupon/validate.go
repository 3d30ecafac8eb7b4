package coupon

import (
	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/shopspring/decimal"
)

// Validate checks the invariants of a coupon record before it is stored.
// Field problems are collected into a single domain.ValidationError.
func Validate(c *domain.Coupon) error {
	const op = "coupon.validate"
	var err error

	if c.Code == "" {
		err = domain.AddFieldError(err, "code", "is required")
	}
	switch c.DiscountType {
	case domain.DiscountPercentage:
		if c.DiscountValue.GreaterThan(hundred) {
			err = domain.AddFieldError(err, "discountValue", "percentage cannot exceed 100")
		}
	case domain.DiscountFixed:
		if c.MaxDiscountAmount != nil {
			err = domain.AddFieldError(err, "maxDiscountAmount", "only applies to percentage coupons")
		}
	default:
		err = domain.AddFieldError(err, "discountType", "must be percentage or fixed")
	}
	if !c.DiscountValue.IsPositive() {
		err = domain.AddFieldError(err, "discountValue", "must be greater than zero")
	}
	if c.MinOrderValue.LessThan(decimal.Zero) {
		err = domain.AddFieldError(err, "minOrderValue", "cannot be negative")
	}
	if c.MaxDiscountAmount != nil && !c.MaxDiscountAmount.IsPositive() {
		err = domain.AddFieldError(err, "maxDiscountAmount", "must be greater than zero")
	}
	if c.ValidUntil.Before(c.ValidFrom) {
		err = domain.AddFieldError(err, "validUntil", "must not be before validFrom")
	}
	if c.UsageLimit <= 0 {
		err = domain.AddFieldError(err, "usageLimit", "must be greater than zero")
	}
	if c.UsedCount < 0 || c.UsedCount > c.UsageLimit {
		err = domain.AddFieldError(err, "usedCount", "must be between 0 and usageLimit")
	}
	switch c.ApplicableTo {
	case domain.ApplicableAll:
	case domain.ApplicableSpecificUsers:
		if len(c.AssignedUsers) == 0 {
			err = domain.AddFieldError(err, "assignedUsers", "required when applicable to specific users")
		}
	default:
		err = domain.AddFieldError(err, "applicableTo", "must be all or specific_users")
	}

	if ve, ok := err.(*domain.ValidationError); ok {
		ve.Op = op
		return ve
	}
	return err
}
