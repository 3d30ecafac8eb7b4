package postgres

import (
	"context"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL.
type CatalogStore struct {
	db *pgxpool.Pool
}

// Compile-time check that CatalogStore implements domain.CatalogStore.
var _ domain.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore creates a new PostgreSQL-backed catalog lookup.
func NewCatalogStore(db *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{db: db}
}

const getVariantSQL = `
SELECT p.id::text, p.name,
       v.id::text, v.weight, v.price::text, v.discounted_price::text, v.wholesale_price::text, v.stock
FROM products p
LEFT JOIN product_variants v ON v.product_id = p.id AND v.id = $2
WHERE p.id = $1 AND p.is_active`

// GetVariant resolves a variant of an active product.
func (s *CatalogStore) GetVariant(ctx context.Context, productID, variantID string) (*domain.Variant, error) {
	const op = "catalog.get_variant"

	if !validUUID(productID) {
		return nil, domain.NotFound(op, domain.ReasonProductNotFound, "product", productID)
	}
	variantArg := variantID
	if !validUUID(variantID) {
		variantArg = uuid.Nil.String()
	}

	var (
		pID, name                       string
		vID, weight, price              *string
		discountedPrice, wholesalePrice *string
		stock                           *int32
	)
	err := s.db.QueryRow(ctx, getVariantSQL, productID, variantArg).Scan(
		&pID, &name, &vID, &weight, &price, &discountedPrice, &wholesalePrice, &stock,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound(op, domain.ReasonProductNotFound, "product", productID)
		}
		return nil, domain.Internal(err, op, "failed to load variant")
	}
	if vID == nil {
		return nil, domain.NotFound(op, domain.ReasonVariantNotFound, "variant", variantID)
	}

	v := &domain.Variant{
		ID:          *vID,
		ProductID:   pID,
		ProductName: name,
		Weight:      *weight,
		Stock:       int(*stock),
	}
	if v.Price, err = parseDecimal(*price); err != nil {
		return nil, domain.Internal(err, op, "failed to load variant")
	}
	if v.DiscountedPrice, err = parseNullDecimal(discountedPrice); err != nil {
		return nil, domain.Internal(err, op, "failed to load variant")
	}
	if v.WholesalePrice, err = parseNullDecimal(wholesalePrice); err != nil {
		return nil, domain.Internal(err, op, "failed to load variant")
	}
	return v, nil
}
