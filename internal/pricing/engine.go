// Package pricing turns raw cart lines into a priced cart using current
// catalog state and an optional coupon.
package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/kcnuts/internal/coupon"
	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/shopspring/decimal"
)

// Engine prices carts. It takes no locks and reserves nothing; stock is
// checked against the catalog at call time only.
type Engine struct {
	catalog domain.CatalogStore
	coupons domain.CouponStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a pricing engine.
func NewEngine(catalog domain.CatalogStore, coupons domain.CouponStore, logger *slog.Logger) *Engine {
	return &Engine{
		catalog: catalog,
		coupons: coupons,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for coupon windows.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Price resolves every line, checks stock and applies couponCode when it
// is accepted. A rejected coupon is recorded on the result and priced as
// no discount. Catalog and stock failures abort pricing.
func (e *Engine) Price(ctx context.Context, items []domain.CartItem, couponCode string, caller *domain.Identity) (*domain.PricedCart, error) {
	const op = "pricing.price"

	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	cart := &domain.PricedCart{
		Items:    make([]domain.OrderItem, 0, len(items)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}

	for _, item := range items {
		line, err := e.priceLine(ctx, op, item)
		if err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, *line)
		cart.Subtotal = cart.Subtotal.Add(line.LineTotal())
	}

	if code := coupon.NormalizeCode(couponCode); code != "" {
		c, discount, err := e.applyCoupon(ctx, code, cart.Subtotal, caller)
		switch {
		case err == nil:
			cart.Coupon = c
			cart.Discount = discount
		case domain.ErrorCode(err) == domain.EINTERNAL:
			return nil, err
		default:
			cart.CouponRejection = err
			e.logger.DebugContext(ctx, "coupon not applied",
				"code", code,
				"reason", domain.ErrorReason(err),
			)
		}
	}

	cart.Final = cart.Subtotal.Sub(cart.Discount)
	if cart.Final.IsNegative() {
		cart.Final = decimal.Zero
	}

	return cart, nil
}

// Quote evaluates a coupon code against a caller-supplied total without
// touching the catalog. Rejections are returned as errors.
func (e *Engine) Quote(ctx context.Context, couponCode string, total decimal.Decimal, caller *domain.Identity) (*domain.Coupon, decimal.Decimal, error) {
	code := coupon.NormalizeCode(couponCode)
	if code == "" {
		return nil, decimal.Zero, domain.NewValidationError("pricing.quote", "code", "is required")
	}
	return e.applyCoupon(ctx, code, total, caller)
}

// Validate prices every line and collects all failures rather than
// stopping at the first. Only internal errors are returned as errors.
func (e *Engine) Validate(ctx context.Context, items []domain.CartItem) (*domain.CartValidation, error) {
	const op = "pricing.validate"

	result := &domain.CartValidation{
		Items:    make([]domain.OrderItem, 0, len(items)),
		Subtotal: decimal.Zero,
	}

	for i, item := range items {
		line, err := e.priceLine(ctx, op, item)
		if err != nil {
			if domain.ErrorCode(err) == domain.EINTERNAL {
				return nil, err
			}
			issue := domain.CartIssue{
				Index:     i,
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Reason:    domain.ErrorReason(err),
				Message:   domain.ErrorMessage(err),
			}
			if available, ok := domain.ErrorDetails(err)["available"].(int); ok {
				issue.Available = &available
			}
			result.Issues = append(result.Issues, issue)
			continue
		}
		result.Items = append(result.Items, *line)
		result.Subtotal = result.Subtotal.Add(line.LineTotal())
	}

	result.Valid = len(items) > 0 && len(result.Issues) == 0
	return result, nil
}

func (e *Engine) priceLine(ctx context.Context, op string, item domain.CartItem) (*domain.OrderItem, error) {
	if item.Quantity < 1 {
		return nil, domain.Invalid(op, "invalid_quantity", "Quantity must be at least 1")
	}

	variant, err := e.catalog.GetVariant(ctx, item.ProductID, item.VariantID)
	if err != nil {
		return nil, err
	}

	if item.Quantity > variant.Stock {
		return nil, domain.InsufficientStock(op, variant.ProductName, variant.Weight, item.Quantity, variant.Stock)
	}

	return &domain.OrderItem{
		ProductID:   variant.ProductID,
		VariantID:   variant.ID,
		ProductName: variant.ProductName,
		Weight:      variant.Weight,
		Quantity:    item.Quantity,
		Price:       variant.UnitPrice(),
		Discount:    variant.UnitDiscount(),
	}, nil
}

func (e *Engine) applyCoupon(ctx context.Context, code string, subtotal decimal.Decimal, caller *domain.Identity) (*domain.Coupon, decimal.Decimal, error) {
	c, err := e.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, decimal.Zero, coupon.ErrInvalidCode
		}
		return nil, decimal.Zero, err
	}

	discount, err := coupon.Evaluate(c, subtotal, caller, e.now())
	if err != nil {
		return nil, decimal.Zero, err
	}
	return c, discount, nil
}
