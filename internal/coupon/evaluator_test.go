package coupon_test

import (
	"testing"
	"time"

	"github.com/dukerupert/kcnuts/internal/coupon"
	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func activeCoupon() *domain.Coupon {
	return &domain.Coupon{
		ID:            "c1",
		Code:          "SAVE",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: dec("50"),
		MinOrderValue: dec("0"),
		ValidFrom:     now.Add(-24 * time.Hour),
		ValidUntil:    now.Add(24 * time.Hour),
		UsageLimit:    10,
		ApplicableTo:  domain.ApplicableAll,
		IsActive:      true,
	}
}

func Test_Evaluate_FixedCoupon(t *testing.T) {
	c := activeCoupon()
	c.MinOrderValue = dec("100")

	discount, err := coupon.Evaluate(c, dec("200"), nil, now)

	require.NoError(t, err)
	assert.True(t, dec("50").Equal(discount), "fixed 50 off 200, got %s", discount)
}

func Test_Evaluate_PercentageCappedAtMax(t *testing.T) {
	c := activeCoupon()
	c.DiscountType = domain.DiscountPercentage
	c.DiscountValue = dec("20")
	c.MaxDiscountAmount = decPtr("30")

	discount, err := coupon.Evaluate(c, dec("500"), nil, now)

	require.NoError(t, err)
	assert.True(t, dec("30").Equal(discount), "20%% of 500 = 100, capped to 30, got %s", discount)
}

func Test_Evaluate_PercentageDiscount(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		max         *decimal.Decimal
		subtotal    string
		expected    string
		explanation string
	}{
		{
			name:        "no cap",
			value:       "10",
			subtotal:    "450",
			expected:    "45",
			explanation: "450 * 10 / 100 = 45",
		},
		{
			name:        "cap above raw discount",
			value:       "10",
			max:         decPtr("100"),
			subtotal:    "450",
			expected:    "45",
			explanation: "cap of 100 does not bind",
		},
		{
			name:        "cap binds",
			value:       "50",
			max:         decPtr("60"),
			subtotal:    "300",
			expected:    "60",
			explanation: "300 * 50 / 100 = 150, capped at 60",
		},
		{
			name:        "hundred percent equals subtotal",
			value:       "100",
			subtotal:    "199.99",
			expected:    "199.99",
			explanation: "full discount never exceeds subtotal",
		},
		{
			name:        "fractional result rounded to minor unit",
			value:       "15",
			subtotal:    "33.33",
			expected:    "5",
			explanation: "33.33 * 0.15 = 4.9995, rounded to 5.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := activeCoupon()
			c.DiscountType = domain.DiscountPercentage
			c.DiscountValue = dec(tt.value)
			c.MaxDiscountAmount = tt.max

			discount, err := coupon.Evaluate(c, dec(tt.subtotal), nil, now)

			require.NoError(t, err)
			assert.True(t, dec(tt.expected).Equal(discount), "%s: got %s", tt.explanation, discount)
			assert.True(t, discount.LessThanOrEqual(dec(tt.subtotal)))
		})
	}
}

func Test_Evaluate_FixedDiscountClampedToSubtotal(t *testing.T) {
	c := activeCoupon()
	c.DiscountValue = dec("500")

	discount, err := coupon.Evaluate(c, dec("120"), nil, now)

	require.NoError(t, err)
	assert.True(t, dec("120").Equal(discount))
}

func Test_Evaluate_Rejections(t *testing.T) {
	member := &domain.Identity{ID: "user-1", Role: domain.RoleCustomer}
	stranger := &domain.Identity{ID: "user-2", Role: domain.RoleCustomer}

	tests := []struct {
		name     string
		mutate   func(c *domain.Coupon)
		subtotal string
		caller   *domain.Identity
		expected error
	}{
		{
			name:     "inactive",
			mutate:   func(c *domain.Coupon) { c.IsActive = false },
			subtotal: "200",
			expected: coupon.ErrInvalidCode,
		},
		{
			name:     "expired",
			mutate:   func(c *domain.Coupon) { c.ValidUntil = now.Add(-time.Minute) },
			subtotal: "200",
			expected: coupon.ErrExpired,
		},
		{
			name:     "not yet valid",
			mutate:   func(c *domain.Coupon) { c.ValidFrom = now.Add(time.Minute) },
			subtotal: "200",
			expected: coupon.ErrExpired,
		},
		{
			name:     "usage exhausted",
			mutate:   func(c *domain.Coupon) { c.UsedCount = c.UsageLimit },
			subtotal: "200",
			expected: coupon.ErrUsageExceeded,
		},
		{
			name:     "below minimum",
			mutate:   func(c *domain.Coupon) { c.MinOrderValue = dec("250") },
			subtotal: "200",
			expected: coupon.ErrBelowMinimum,
		},
		{
			name: "specific users without login",
			mutate: func(c *domain.Coupon) {
				c.ApplicableTo = domain.ApplicableSpecificUsers
				c.AssignedUsers = []string{"user-1"}
			},
			subtotal: "200",
			expected: coupon.ErrLoginRequired,
		},
		{
			name: "specific users not assigned",
			mutate: func(c *domain.Coupon) {
				c.ApplicableTo = domain.ApplicableSpecificUsers
				c.AssignedUsers = []string{"user-1"}
			},
			subtotal: "200",
			caller:   stranger,
			expected: coupon.ErrNotEligible,
		},
		{
			name: "expired wins over exhausted",
			mutate: func(c *domain.Coupon) {
				c.ValidUntil = now.Add(-time.Minute)
				c.UsedCount = c.UsageLimit
			},
			subtotal: "200",
			expected: coupon.ErrExpired,
		},
		{
			name: "exhausted wins over below minimum and eligibility",
			mutate: func(c *domain.Coupon) {
				c.UsedCount = c.UsageLimit
				c.MinOrderValue = dec("1000")
				c.ApplicableTo = domain.ApplicableSpecificUsers
				c.AssignedUsers = []string{"user-1"}
			},
			subtotal: "200",
			caller:   stranger,
			expected: coupon.ErrUsageExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := activeCoupon()
			tt.mutate(c)

			discount, err := coupon.Evaluate(c, dec(tt.subtotal), tt.caller, now)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)
			assert.True(t, discount.IsZero(), "rejections carry no discount")
		})
	}

	t.Run("assigned member accepted", func(t *testing.T) {
		c := activeCoupon()
		c.ApplicableTo = domain.ApplicableSpecificUsers
		c.AssignedUsers = []string{"user-1"}

		discount, err := coupon.Evaluate(c, dec("200"), member, now)

		require.NoError(t, err)
		assert.True(t, dec("50").Equal(discount))
	})
}

func Test_Evaluate_NilCouponIsInvalidCode(t *testing.T) {
	_, err := coupon.Evaluate(nil, dec("100"), nil, now)

	assert.ErrorIs(t, err, coupon.ErrInvalidCode)
	assert.Equal(t, domain.ReasonCouponInvalid, domain.ErrorReason(err))
}

func Test_Evaluate_BelowMinimumReportsThreshold(t *testing.T) {
	c := activeCoupon()
	c.MinOrderValue = dec("99.5")

	_, err := coupon.Evaluate(c, dec("10"), nil, now)

	require.Error(t, err)
	assert.Equal(t, "99.50", domain.ErrorDetails(err)["minOrderValue"])
	assert.Nil(t, coupon.ErrBelowMinimum.Details, "sentinel must not be mutated")
}

func Test_NormalizeCode(t *testing.T) {
	assert.Equal(t, "WELCOME10", coupon.NormalizeCode("  welcome10 "))
	assert.Equal(t, "", coupon.NormalizeCode("   "))
}

func Test_Validate(t *testing.T) {
	t.Run("valid coupon", func(t *testing.T) {
		assert.NoError(t, coupon.Validate(activeCoupon()))
	})

	t.Run("collects every field problem", func(t *testing.T) {
		c := activeCoupon()
		c.DiscountType = domain.DiscountFixed
		c.DiscountValue = dec("0")
		c.MaxDiscountAmount = decPtr("10")
		c.ValidUntil = c.ValidFrom.Add(-time.Hour)
		c.UsageLimit = 0

		err := coupon.Validate(c)

		require.Error(t, err)
		fields := domain.GetValidationFields(err)
		assert.Contains(t, fields, "discountValue")
		assert.Contains(t, fields, "maxDiscountAmount")
		assert.Contains(t, fields, "validUntil")
		assert.Contains(t, fields, "usageLimit")
	})

	t.Run("percentage over 100", func(t *testing.T) {
		c := activeCoupon()
		c.DiscountType = domain.DiscountPercentage
		c.DiscountValue = dec("120")

		err := coupon.Validate(c)

		assert.Contains(t, domain.GetValidationFields(err), "discountValue")
	})

	t.Run("specific users need assignees", func(t *testing.T) {
		c := activeCoupon()
		c.ApplicableTo = domain.ApplicableSpecificUsers

		err := coupon.Validate(c)

		assert.Contains(t, domain.GetValidationFields(err), "assignedUsers")
	})
}
