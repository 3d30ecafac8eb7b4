package service

import (
	"context"
	"testing"

	"github.com/dukerupert/kcnuts/internal/coupon"
	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCouponFixture(cs ...*domain.Coupon) (*memCoupons, CouponService) {
	coupons := newMemCoupons(cs...)
	engine := newTestEngine(newMemCatalog(), coupons)
	return coupons, NewCouponService(coupons, engine, discardLogger())
}

func TestCouponService_Apply(t *testing.T) {
	capped := flatCoupon("TWENTY", "20", "0")
	capped.DiscountType = domain.DiscountPercentage
	maxDiscount := dec("30")
	capped.MaxDiscountAmount = &maxDiscount

	exhausted := flatCoupon("GONE", "50", "0")
	exhausted.UsedCount = exhausted.UsageLimit

	_, svc := newCouponFixture(capped, exhausted, flatCoupon("SAVE50", "50", "100"))

	tests := []struct {
		name         string
		code         string
		total        string
		wantDiscount string
		wantFinal    string
		wantErr      error
	}{
		{name: "percentage capped", code: "twenty", total: "500", wantDiscount: "30", wantFinal: "470"},
		{name: "fixed", code: " save50 ", total: "200", wantDiscount: "50", wantFinal: "150"},
		{name: "below minimum", code: "SAVE50", total: "99.99", wantErr: coupon.ErrBelowMinimum},
		{name: "usage exceeded", code: "GONE", total: "500", wantErr: coupon.ErrUsageExceeded},
		{name: "unknown code", code: "WHAT", total: "500", wantErr: coupon.ErrInvalidCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := svc.Apply(context.Background(), tt.code, dec(tt.total), customer("user-1"))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, quote)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.wantDiscount).Equal(quote.Discount), "discount %s", quote.Discount)
			assert.True(t, dec(tt.wantFinal).Equal(quote.FinalTotal), "final %s", quote.FinalTotal)
		})
	}
}

func TestCouponService_Apply_DoesNotRedeem(t *testing.T) {
	coupons, svc := newCouponFixture(flatCoupon("SAVE50", "50", "100"))

	for range 3 {
		_, err := svc.Apply(context.Background(), "SAVE50", dec("200"), nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, coupons.usedCount("SAVE50"))
}

func TestCouponService_Apply_RejectsNegativeTotal(t *testing.T) {
	_, svc := newCouponFixture(flatCoupon("SAVE50", "50", "0"))

	_, err := svc.Apply(context.Background(), "SAVE50", dec("-1"), nil)

	assert.True(t, domain.IsValidationError(err))
}

func TestCouponService_Create(t *testing.T) {
	coupons, svc := newCouponFixture()

	c, err := svc.Create(context.Background(), CreateCouponParams{
		Code:          " diwali10 ",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: dec("10"),
		MinOrderValue: decimal.Zero,
		ValidFrom:     testNow,
		ValidUntil:    testNow.AddDate(0, 1, 0),
		UsageLimit:    100,
		IsActive:      true,
	})

	require.NoError(t, err)
	assert.Equal(t, "DIWALI10", c.Code)
	assert.Equal(t, domain.ApplicableAll, c.ApplicableTo)
	assert.NotEmpty(t, c.ID)
	require.Len(t, coupons.created, 1)

	_, err = svc.Create(context.Background(), CreateCouponParams{
		Code:          "DIWALI10",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: dec("10"),
		ValidFrom:     testNow,
		ValidUntil:    testNow.AddDate(0, 1, 0),
		UsageLimit:    1,
	})
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, domain.ReasonCouponExists, domain.ErrorReason(err))
}

func TestCouponService_Create_Invalid(t *testing.T) {
	coupons, svc := newCouponFixture()

	_, err := svc.Create(context.Background(), CreateCouponParams{
		Code:          "BAD",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: dec("120"),
		ValidFrom:     testNow,
		ValidUntil:    testNow.AddDate(0, 0, -1),
		UsageLimit:    0,
	})

	require.True(t, domain.IsValidationError(err))
	fields := domain.GetValidationFields(err)
	assert.Contains(t, fields, "discountValue")
	assert.Contains(t, fields, "validUntil")
	assert.Contains(t, fields, "usageLimit")
	assert.Empty(t, coupons.created)
}

func TestCouponService_List(t *testing.T) {
	_, svc := newCouponFixture(flatCoupon("B", "1", "0"), flatCoupon("A", "1", "0"))

	list, err := svc.List(context.Background())

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Code)
}
