package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartflow/checkout/internal/domain/coupon"
)

const getCouponByCodeSQL = `SELECT code, discount_percent, expires_at, COALESCE(owner_id, '')
	FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Exactly one row must match: no rows map to coupon.ErrNotFound, and more
// than one row maps to coupon.ErrAmbiguousCode so the validator fails closed
// rather than picking a winner.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, coupon.ErrNotFound
		case errors.Is(err, pgx.ErrTooManyRows):
			return nil, coupon.ErrAmbiguousCode
		default:
			return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
		}
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.DiscountPercent, &c.ExpiresAt, &c.OwnerID)
	return c, err
}
