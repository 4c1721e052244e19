package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validator validates a coupon code for a shopper against the current cart
// subtotal and returns the discounted total.
type Validator interface {
	Validate(ctx context.Context, code, shopperID string, subtotal decimal.Decimal) (*Applied, error)
}

// RepoValidator implements Validator by looking up coupons in a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon for the case-normalized code, checks expiry
// and ownership scope, and computes the discounted total.
//
// The coupon is applied, not consumed: validation has no side effects and
// re-validating the same inputs yields the same result.
func (v *RepoValidator) Validate(ctx context.Context, code, shopperID string, subtotal decimal.Decimal) (*Applied, error) {
	code = Normalize(code)

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguousCode) {
			return nil, err
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.DiscountPercent < 1 || c.DiscountPercent > 100 {
		return nil, ErrInvalidPercent
	}
	if v.now().After(c.ExpiresAt) {
		return nil, ErrExpired
	}
	if !c.Global() && c.OwnerID != shopperID {
		return nil, ErrNotOwned
	}

	return &Applied{
		Code:            c.Code,
		DiscountPercent: c.DiscountPercent,
		DiscountedTotal: Discount(subtotal, c.DiscountPercent),
	}, nil
}

// Discount applies a percentage discount to the subtotal, rounded half-up to
// the currency's minor unit. decimal.Round rounds half away from zero, which
// for the non-negative amounts handled here is exactly half-up; the same rule
// must be used by anything rendering totals so the review step never shows a
// mismatch.
func Discount(subtotal decimal.Decimal, percent int) decimal.Decimal {
	keep := hundred.Sub(decimal.NewFromInt(int64(percent)))
	return subtotal.Mul(keep).Div(hundred).Round(2)
}

// Normalize maps a user-entered code to its canonical stored form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
