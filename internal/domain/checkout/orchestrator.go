package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/coupon"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
	"github.com/cartflow/checkout/internal/pendingorder"
)

var (
	// ErrSubmitInFlight is returned when a submit arrives while an earlier
	// one has not resolved yet.
	ErrSubmitInFlight = errors.New("submit already in flight")
	// ErrNotAtReview is returned when submit is attempted from any step
	// other than review.
	ErrNotAtReview = errors.New("submit is only allowed from the review step")
	// ErrAlreadySubmitted is returned when mutating a submitted checkout.
	ErrAlreadySubmitted = errors.New("checkout already submitted")
	// ErrMethodRequired is returned when advancing past the payment step
	// without a chosen method.
	ErrMethodRequired = errors.New("payment method required")
	// ErrEmptyCart is returned when submitting with an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
)

// errPendingFailed signals Submit that the session's pending order has a
// terminally failed payment; the submit proceeds with a fresh order.
var errPendingFailed = errors.New("pending order payment failed")

// ValidationError reports required fields missing at the current step. It is
// recovered locally: the step does not advance and the fields are surfaced.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %v", e.Fields)
}

// SubmitResult is the outcome of a submit. For the direct method Finalized is
// true and the cart has been cleared. For the gateway method Initiation
// describes the redirect the client must perform; the cart is untouched until
// the confirmation listener finalizes the payment.
type SubmitResult struct {
	OrderID    string
	Total      decimal.Decimal
	Finalized  bool
	Initiation *payment.Initiation
}

// Orchestrator drives the four-step checkout wizard: collecting shipping
// data and the payment method, applying a coupon at review, and turning the
// cart into an order on submit.
type Orchestrator struct {
	sessions   SessionStore
	carts      *cart.Service
	coupons    coupon.Validator
	ledger     *order.Ledger
	initiators map[payment.Method]payment.Initiator
	pending    pendingorder.Store

	deliveryCharge decimal.Decimal
	currency       string
	now            func() time.Time
}

// Config holds the orchestrator's fixed pricing parameters.
type Config struct {
	// DeliveryCharge is the flat charge added to every final total. It is a
	// constant, not computed per order.
	DeliveryCharge decimal.Decimal
	Currency       string
}

// NewOrchestrator wires the checkout workflow.
func NewOrchestrator(
	cfg Config,
	sessions SessionStore,
	carts *cart.Service,
	coupons coupon.Validator,
	ledger *order.Ledger,
	initiators map[payment.Method]payment.Initiator,
	pending pendingorder.Store,
) *Orchestrator {
	return &Orchestrator{
		sessions:       sessions,
		carts:          carts,
		coupons:        coupons,
		ledger:         ledger,
		initiators:     initiators,
		pending:        pending,
		deliveryCharge: cfg.DeliveryCharge,
		currency:       cfg.Currency,
		now:            time.Now,
	}
}

// Session returns the shopper's checkout session, creating one at the
// shipping step on first access.
func (o *Orchestrator) Session(ctx context.Context, shopperID string) (*Session, error) {
	return o.sessions.Get(ctx, shopperID)
}

// SetShipping validates and stores the shipping form. From the shipping step
// a complete form advances to the payment step; validation failures keep the
// current step and surface the missing fields.
func (o *Orchestrator) SetShipping(ctx context.Context, shopperID string, info order.ShippingInfo) (*Session, error) {
	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if sess.Step == StepSubmitted {
		return nil, ErrAlreadySubmitted
	}
	if missing := info.Validate(); len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	sess.Shipping = info
	if sess.Step == StepShipping {
		sess.Step = StepPayment
	}
	return sess, o.put(ctx, sess)
}

// SelectPaymentMethod records the chosen method and advances from the
// payment step to review. Shipping must already be complete.
func (o *Orchestrator) SelectPaymentMethod(ctx context.Context, shopperID string, m payment.Method) (*Session, error) {
	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if sess.Step == StepSubmitted {
		return nil, ErrAlreadySubmitted
	}
	if !m.Valid() {
		return nil, ErrMethodRequired
	}
	if missing := sess.Shipping.Validate(); len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	sess.Method = m
	if sess.Step <= StepPayment {
		sess.Step = StepReview
	}
	return sess, o.put(ctx, sess)
}

// Back moves one step backwards. It is always allowed except from the
// submitted state.
func (o *Orchestrator) Back(ctx context.Context, shopperID string) (*Session, error) {
	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if sess.Step == StepSubmitted {
		return nil, ErrAlreadySubmitted
	}
	if sess.Step > StepShipping {
		sess.Step--
	}
	return sess, o.put(ctx, sess)
}

// ApplyCoupon validates a code against the current subtotal and stores the
// discounted outcome on the session. Coupon rejections leave the session
// unchanged; the raw subtotal stands.
func (o *Orchestrator) ApplyCoupon(ctx context.Context, shopperID, code string) (*Session, error) {
	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if sess.Step == StepSubmitted {
		return nil, ErrAlreadySubmitted
	}

	c, err := o.carts.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}

	applied, err := o.coupons.Validate(ctx, code, shopperID, c.Subtotal)
	if err != nil {
		return nil, err
	}

	sess.Applied = applied
	return sess, o.put(ctx, sess)
}

// Submit turns the reviewed cart into an order. It is idempotent under
// user-retry: a second submit while the first is in flight is rejected, and
// a submit while a gateway order is awaiting confirmation re-initiates that
// same order instead of creating a duplicate.
func (o *Orchestrator) Submit(ctx context.Context, shopperID string) (*SubmitResult, error) {
	locked, err := o.sessions.TrySubmitLock(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "acquire submit lock")
	}
	if !locked {
		return nil, ErrSubmitInFlight
	}
	defer func() { _ = o.sessions.ReleaseSubmitLock(ctx, shopperID) }()

	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if sess.Step == StepSubmitted {
		return nil, ErrAlreadySubmitted
	}
	if sess.Step != StepReview {
		return nil, ErrNotAtReview
	}
	// The wizard cannot reach submitted with incomplete shipping data or an
	// unselected method; re-check here so no transport path bypasses it.
	if missing := sess.Shipping.Validate(); len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}
	if !sess.Method.Valid() {
		return nil, ErrMethodRequired
	}

	if sess.PendingOrderID != "" {
		res, err := o.resumePending(ctx, sess)
		if !errors.Is(err, errPendingFailed) {
			return res, err
		}
		// The referenced payment already failed; this submit starts over.
	}

	c, err := o.carts.Get(ctx, shopperID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	subtotal := c.Subtotal
	discount := decimal.Zero
	couponCode := ""
	if sess.Applied != nil {
		discount = subtotal.Sub(sess.Applied.DiscountedTotal)
		couponCode = sess.Applied.Code
	}

	items := make([]order.Item, len(c.Items))
	for i, it := range c.Items {
		items[i] = order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Color:     it.Color,
		}
	}

	ord, err := o.ledger.CreateOrder(ctx, order.CreateRequest{
		ShopperID:      shopperID,
		Items:          items,
		Shipping:       sess.Shipping,
		CouponCode:     couponCode,
		Subtotal:       subtotal,
		Discount:       discount,
		DeliveryCharge: o.deliveryCharge,
		Method:         sess.Method,
		Currency:       o.currency,
	})
	if err != nil {
		return nil, err
	}

	if sess.Method == payment.MethodCOD {
		// Mark the session submitted before clearing the cart: once the
		// order exists a retry must not create a second one. A failed
		// clear leaves stale cart items, never a duplicate order.
		sess.Step = StepSubmitted
		sess.OrderID = ord.ID
		sess.Applied = nil
		if err := o.put(ctx, sess); err != nil {
			return nil, err
		}
		if _, err := o.carts.Clear(ctx, shopperID); err != nil {
			zctx.From(ctx).Warn("clear cart after cod finalize",
				zap.String("order_id", ord.ID),
				zap.Error(err),
			)
		}
		return &SubmitResult{OrderID: ord.ID, Total: ord.Total, Finalized: true}, nil
	}

	return o.initiateGateway(ctx, sess, ord)
}

// resumePending re-initiates the gateway hand-off for an order created by an
// earlier submit whose confirmation never arrived.
func (o *Orchestrator) resumePending(ctx context.Context, sess *Session) (*SubmitResult, error) {
	ord, err := o.ledger.GetOrder(ctx, sess.PendingOrderID)
	if err != nil {
		return nil, err
	}

	switch ord.Intent.Status {
	case payment.StatusPending:
		return o.initiateGateway(ctx, sess, ord)
	case payment.StatusCompleted:
		// The listener finished but the session update was lost; repair it.
		if err := o.CompleteSubmission(ctx, sess.ShopperID, ord.ID); err != nil {
			return nil, err
		}
		return &SubmitResult{OrderID: ord.ID, Total: ord.Total, Finalized: true}, nil
	default:
		// Failed intents are terminal; drop the reference so the caller
		// creates a fresh order within this same submit.
		sess.PendingOrderID = ""
		if err := o.put(ctx, sess); err != nil {
			return nil, err
		}
		return nil, errPendingFailed
	}
}

// initiateGateway persists the pending-order slot before handing off: the
// originating client context may be torn down as soon as it navigates away.
func (o *Orchestrator) initiateGateway(ctx context.Context, sess *Session, ord *order.Order) (*SubmitResult, error) {
	initiator, ok := o.initiators[payment.MethodGateway]
	if !ok {
		return nil, errors.New("gateway initiator not configured")
	}

	if err := o.pending.Put(ctx, sess.ShopperID, ord.ID); err != nil {
		return nil, errors.Wrap(err, "persist pending order id")
	}

	sess.PendingOrderID = ord.ID
	if err := o.put(ctx, sess); err != nil {
		return nil, err
	}

	initiation, err := initiator.Initiate(ctx, payment.InitiationRequest{
		OrderID:       ord.ID,
		Amount:        ord.Total,
		Currency:      ord.Intent.Currency,
		CustomerName:  sess.Shipping.Name,
		CustomerEmail: sess.Shipping.Email,
	})
	if err != nil {
		// The order stays pending and the slot stays written: the shopper
		// retries by submitting again, which resumes this same order.
		return nil, err
	}

	return &SubmitResult{OrderID: ord.ID, Total: ord.Total, Initiation: initiation}, nil
}

// CompleteSubmission marks the checkout submitted after the confirmation
// listener has finalized the gateway payment.
func (o *Orchestrator) CompleteSubmission(ctx context.Context, shopperID, orderID string) error {
	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return err
	}
	sess.Step = StepSubmitted
	sess.OrderID = orderID
	sess.PendingOrderID = ""
	sess.Applied = nil
	return o.put(ctx, sess)
}

// AbortSubmission returns a gateway checkout to the review step after a
// failure signal, so the shopper can retry with a fresh order.
func (o *Orchestrator) AbortSubmission(ctx context.Context, shopperID string) error {
	sess, err := o.sessions.Get(ctx, shopperID)
	if err != nil {
		return err
	}
	if sess.Step == StepSubmitted {
		return nil
	}
	sess.PendingOrderID = ""
	return o.put(ctx, sess)
}

func (o *Orchestrator) put(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = o.now().UTC()
	return o.sessions.Put(ctx, sess)
}
