package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when a coupon is past its expiry date.
	ErrExpired = errors.New("coupon expired")
	// ErrNotOwned is returned when a shopper-scoped coupon is used by a
	// different shopper.
	ErrNotOwned = errors.New("coupon not valid for this shopper")
	// ErrAmbiguousCode is returned when more than one coupon row matches a
	// code. Codes are expected to be unique; when that expectation is broken
	// the validator fails closed instead of picking one.
	ErrAmbiguousCode = errors.New("ambiguous coupon code")
	// ErrInvalidPercent is returned for a stored discount outside 1..100.
	ErrInvalidPercent = errors.New("discount percent out of range")
)

// Coupon is a named percentage discount with an expiry and an optional
// single-owner scope. OwnerID empty means the coupon is global.
type Coupon struct {
	Code            string
	DiscountPercent int
	ExpiresAt       time.Time
	OwnerID         string
}

// Global reports whether the coupon may be used by any shopper.
func (c Coupon) Global() bool {
	return c.OwnerID == ""
}

// Applied holds the outcome of a successful validation. Applying the same
// coupon to an unchanged subtotal always yields the same DiscountedTotal.
type Applied struct {
	Code            string
	DiscountPercent int
	DiscountedTotal decimal.Decimal
}

// Repository provides coupon lookup by code.
//
// FindByCode must return ErrNotFound when no row matches and
// ErrAmbiguousCode when more than one row matches.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}
