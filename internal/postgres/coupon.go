package postgres

import (
	"context"

	"github.com/dukerupert/kcnuts/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CouponStore implements domain.CouponStore using PostgreSQL.
type CouponStore struct {
	db *pgxpool.Pool
}

// Compile-time check that CouponStore implements domain.CouponStore.
var _ domain.CouponStore = (*CouponStore)(nil)

// NewCouponStore creates a new PostgreSQL-backed coupon store.
func NewCouponStore(db *pgxpool.Pool) *CouponStore {
	return &CouponStore{db: db}
}

const couponColumns = `id::text, code, discount_type, discount_value::text, min_order_value::text,
	max_discount_amount::text, valid_from, valid_until, usage_limit, used_count,
	applicable_to, assigned_users, is_active, created_at`

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var (
		c                          domain.Coupon
		discountValue, minOrder    string
		maxDiscount                *string
		discountType, applicableTo string
		usageLimit, usedCount      int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &discountValue, &minOrder,
		&maxDiscount, &c.ValidFrom, &c.ValidUntil, &usageLimit, &usedCount,
		&applicableTo, &c.AssignedUsers, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.DiscountType = domain.DiscountType(discountType)
	c.ApplicableTo = domain.Applicability(applicableTo)
	c.UsageLimit = int(usageLimit)
	c.UsedCount = int(usedCount)
	if c.DiscountValue, err = parseDecimal(discountValue); err != nil {
		return nil, err
	}
	if c.MinOrderValue, err = parseDecimal(minOrder); err != nil {
		return nil, err
	}
	if c.MaxDiscountAmount, err = parseNullDecimal(maxDiscount); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCouponByCode looks up a coupon by its uppercase code.
func (s *CouponStore) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	const op = "coupon.get_by_code"

	row := s.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	c, err := scanCoupon(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound(op, domain.ReasonCouponInvalid, "coupon", code)
		}
		return nil, domain.Internal(err, op, "failed to load coupon")
	}
	return c, nil
}

// CreateCoupon inserts a coupon and fills in its ID and creation time.
func (s *CouponStore) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	const op = "coupon.create"

	assigned := c.AssignedUsers
	if assigned == nil {
		assigned = []string{}
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO coupons (code, discount_type, discount_value, min_order_value, max_discount_amount,
			valid_from, valid_until, usage_limit, used_count, applicable_to, assigned_users, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id::text, created_at`,
		c.Code, string(c.DiscountType), decimalArg(c.DiscountValue), decimalArg(c.MinOrderValue),
		nullDecimalArg(c.MaxDiscountAmount), c.ValidFrom, c.ValidUntil, c.UsageLimit, c.UsedCount,
		string(c.ApplicableTo), assigned, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, domain.ReasonCouponExists, "A coupon with this code already exists")
		}
		return domain.Internal(err, op, "failed to create coupon")
	}
	return nil
}

// ListCoupons returns all coupons, newest first.
func (s *CouponStore) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	const op = "coupon.list"

	rows, err := s.db.Query(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list coupons")
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to list coupons")
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list coupons")
	}
	return coupons, nil
}
