package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cartflow/checkout/internal/domain/payment"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrPaymentFinal is returned when finalizing a payment whose intent has
	// already reached the failed terminal state.
	ErrPaymentFinal = errors.New("payment already failed")
	// ErrEmptyItems is returned when an order is created with no items.
	ErrEmptyItems = errors.New("order items required")
)

// Status is the fulfilment lifecycle of an order, separate from the payment
// intent status.
type Status string

const (
	StatusNotProcessed Status = "not_processed"
	StatusProcessing   Status = "processing"
	StatusDispatched   Status = "dispatched"
	StatusDelivered    Status = "delivered"
	StatusCancelled    Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusNotProcessed: {StatusProcessing, StatusCancelled},
	StatusProcessing:   {StatusDispatched, StatusCancelled},
	StatusDispatched:   {StatusDelivered, StatusCancelled},
}

// CanTransition reports whether the fulfilment status may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IllegalTransitionError reports a forbidden fulfilment status change.
type IllegalTransitionError struct {
	From, To Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition %s -> %s", e.From, e.To)
}

// ShippingInfo is the delivery address collected during checkout. All fields
// are required.
type ShippingInfo struct {
	Name    string
	Email   string
	Address string
	City    string
	Phone   string
}

// Validate returns the names of missing fields, empty when complete.
func (s ShippingInfo) Validate() []string {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"name", s.Name},
		{"email", s.Email},
		{"address", s.Address},
		{"city", s.City},
		{"phone", s.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Item is an order line captured at submission time. It is a snapshot copy of
// the cart item, not a live reference: the cart is cleared right after the
// order is created, so losing the snapshot would make the order unauditable.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Color     string          `json:"color,omitempty"`
}

// Order is the server-side record of a confirmed purchase and its payment.
type Order struct {
	ID             string
	ShopperID      string
	Items          []Item
	Shipping       ShippingInfo
	CouponCode     string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	DeliveryCharge decimal.Decimal
	Total          decimal.Decimal
	Intent         payment.Intent
	Status         Status
	CreatedAt      time.Time
}

// Repository defines persistence for orders and their payment intents.
//
// FinalizePayment must be a conditional update guarded by the current
// payment status being pending. It returns the intent after the call and
// whether this call performed the pending->completed transition; a call
// against an already-completed intent is a no-op returning (intent, false,
// nil), and a call against a failed intent returns ErrPaymentFinal.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByShopper(ctx context.Context, shopperID string) ([]Order, error)
	FinalizePayment(ctx context.Context, id, gatewayRef string) (*payment.Intent, bool, error)
	FailPayment(ctx context.Context, id string) (*payment.Intent, error)
	SetStatus(ctx context.Context, id string, from, to Status) error
}
