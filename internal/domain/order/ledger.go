package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cartflow/checkout/internal/domain/payment"
)

// CreateRequest holds the input for creating an order with its payment
// intent. Items must already be a snapshot copy of the cart.
type CreateRequest struct {
	ShopperID      string
	Items          []Item
	Shipping       ShippingInfo
	CouponCode     string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	DeliveryCharge decimal.Decimal
	Method         payment.Method
	Currency       string
}

// Ledger is the authoritative store of orders and the single authority that
// finalizes payment completion. All PaymentIntent writes go through it.
type Ledger struct {
	orders Repository
	now    func() time.Time
}

// NewLedger creates a Ledger backed by the given repository.
func NewLedger(orders Repository) *Ledger {
	return &Ledger{orders: orders, now: time.Now}
}

// CreateOrder persists a new order together with its payment intent. The
// total is derived here: discounted subtotal plus the delivery charge. For
// the direct (cash-on-delivery) method the intent is finalized synchronously
// before the order is returned.
func (l *Ledger) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if missing := req.Shipping.Validate(); len(missing) > 0 {
		return nil, errors.Errorf("incomplete shipping info: missing %v", missing)
	}
	if !req.Method.Valid() {
		return nil, errors.Errorf("unsupported payment method %q", req.Method)
	}

	total := req.Subtotal.Sub(req.Discount).Add(req.DeliveryCharge)
	if total.IsNegative() {
		total = decimal.Zero
	}
	total = total.Round(2)

	o := &Order{
		ID:             uuid.New().String(),
		ShopperID:      req.ShopperID,
		Items:          append([]Item(nil), req.Items...),
		Shipping:       req.Shipping,
		CouponCode:     req.CouponCode,
		Subtotal:       req.Subtotal.Round(2),
		Discount:       req.Discount.Round(2),
		DeliveryCharge: req.DeliveryCharge.Round(2),
		Total:          total,
		Intent: payment.Intent{
			Method:   req.Method,
			Amount:   total,
			Currency: req.Currency,
			Status:   payment.StatusPending,
		},
		Status:    StatusNotProcessed,
		CreatedAt: l.now().UTC(),
	}

	if err := l.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	if req.Method == payment.MethodCOD {
		intent, _, err := l.orders.FinalizePayment(ctx, o.ID, "")
		if err != nil {
			return nil, errors.Wrap(err, "finalize cod payment")
		}
		o.Intent = *intent
		o.Status = StatusProcessing
	}

	return o, nil
}

// CompletePayment moves the order's payment intent from pending to completed.
// It is idempotent: a second call for an already-completed order is a no-op
// returning the existing intent, because the gateway's completion signal is
// not guaranteed to be delivered exactly once. The returned bool reports
// whether this call performed the transition.
func (l *Ledger) CompletePayment(ctx context.Context, orderID, gatewayRef string) (*payment.Intent, bool, error) {
	intent, finalized, err := l.orders.FinalizePayment(ctx, orderID, gatewayRef)
	if err != nil {
		return nil, false, err
	}
	return intent, finalized, nil
}

// FailPayment moves a pending intent to the failed terminal state, e.g. on a
// gateway failure signal. The order itself survives; the shopper may retry
// by submitting again, which creates a fresh order and intent.
func (l *Ledger) FailPayment(ctx context.Context, orderID string) (*payment.Intent, error) {
	return l.orders.FailPayment(ctx, orderID)
}

// GetOrder returns one order by id.
func (l *Ledger) GetOrder(ctx context.Context, id string) (*Order, error) {
	return l.orders.Get(ctx, id)
}

// ListOrders returns the shopper's order history, newest first.
func (l *Ledger) ListOrders(ctx context.Context, shopperID string) ([]Order, error) {
	return l.orders.ListByShopper(ctx, shopperID)
}

// AdvanceStatus moves the fulfilment status after checking the transition is
// legal.
func (l *Ledger) AdvanceStatus(ctx context.Context, id string, to Status) error {
	o, err := l.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if !o.Status.CanTransition(to) {
		return &IllegalTransitionError{From: o.Status, To: to}
	}
	return l.orders.SetStatus(ctx, id, o.Status, to)
}
