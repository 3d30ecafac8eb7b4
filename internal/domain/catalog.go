package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Variant is a purchasable SKU within a product, read from the catalog.
type Variant struct {
	ID              string
	ProductID       string
	ProductName     string
	Weight          string
	Price           decimal.Decimal
	DiscountedPrice *decimal.Decimal
	WholesalePrice  *decimal.Decimal
	Stock           int
}

// UnitPrice returns the price a retail customer pays for one unit.
func (v *Variant) UnitPrice() decimal.Decimal {
	if v.DiscountedPrice != nil {
		return *v.DiscountedPrice
	}
	return v.Price
}

// UnitDiscount returns the per-unit markdown from the list price.
func (v *Variant) UnitDiscount() decimal.Decimal {
	if v.DiscountedPrice != nil {
		return v.Price.Sub(*v.DiscountedPrice)
	}
	return decimal.Zero
}

// CatalogStore is the read-only variant lookup used by pricing.
type CatalogStore interface {
	// GetVariant returns ENOTFOUND with reason product_not_found or
	// variant_not_found when either side is missing.
	GetVariant(ctx context.Context, productID, variantID string) (*Variant, error)
}

// CartItem is a raw cart line as submitted by the client.
type CartItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// PricedCart is the output of the pricing engine.
type PricedCart struct {
	Items    []OrderItem
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Final    decimal.Decimal

	// Coupon is set only when a supplied code was accepted.
	Coupon *Coupon

	// CouponRejection holds the reason a supplied code was not applied.
	CouponRejection error
}

// CartIssue is one failing line reported by cart validation.
type CartIssue struct {
	Index     int    `json:"index"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Available *int   `json:"available,omitempty"`
}

// CartValidation is the result of validating every line of a cart.
type CartValidation struct {
	Valid    bool            `json:"valid"`
	Items    []OrderItem     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Issues   []CartIssue     `json:"issues,omitempty"`
}
