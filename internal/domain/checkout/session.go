package checkout

import (
	"context"
	"time"

	"github.com/cartflow/checkout/internal/domain/coupon"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
)

// Step is the position in the four-step checkout wizard.
type Step int

const (
	StepShipping Step = iota
	StepPayment
	StepReview
	StepSubmitted
)

var stepNames = [...]string{"shipping", "payment", "review", "submitted"}

func (s Step) String() string {
	if s < StepShipping || s > StepSubmitted {
		return "unknown"
	}
	return stepNames[s]
}

// Session is one shopper's in-progress checkout. It survives re-auth: an
// expired token does not lose entered shipping data, the shopper resumes
// where they left off after signing in again.
type Session struct {
	ShopperID string `json:"shopper_id"`
	Step      Step   `json:"step"`

	Shipping order.ShippingInfo `json:"shipping"`
	Method   payment.Method     `json:"method,omitempty"`

	// Applied is the coupon outcome computed at review time. Any cart
	// mutation clears it; the shopper re-applies against the new subtotal.
	Applied *coupon.Applied `json:"applied,omitempty"`

	// PendingOrderID is set while a gateway order awaits confirmation.
	PendingOrderID string `json:"pending_order_id,omitempty"`
	// OrderID is set once the checkout reaches StepSubmitted.
	OrderID string `json:"order_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ShippingComplete reports whether every required shipping field is present.
func (s *Session) ShippingComplete() bool {
	return len(s.Shipping.Validate()) == 0
}

// SessionStore persists checkout sessions keyed by shopper and provides the
// submit guard that makes user-retry idempotent.
type SessionStore interface {
	// Get returns the shopper's session, or a fresh one at StepShipping when
	// none exists.
	Get(ctx context.Context, shopperID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, shopperID string) error

	// TrySubmitLock acquires the shopper's submit guard. It returns false
	// when a submit is already in flight; a second submit must not create a
	// duplicate order.
	TrySubmitLock(ctx context.Context, shopperID string) (bool, error)
	ReleaseSubmitLock(ctx context.Context, shopperID string) error
}
