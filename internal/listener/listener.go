// Package listener reacts to asynchronous payment-completion signals emitted
// by the gateway callback. It runs in the service's own context, decoupled
// from the secondary execution context that performed the payment; signal
// delivery is at-most-once but possibly duplicated, so everything downstream
// of it is idempotent.
package listener

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/checkout"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/pendingorder"
)

// SignalType tags the variant of a completion signal.
type SignalType string

const (
	SignalPaymentSuccess SignalType = "PAYMENT_SUCCESS"
	SignalPaymentFailure SignalType = "PAYMENT_FAILURE"
)

// Signal is the one-shot, typed message crossing the context boundary.
type Signal struct {
	Type       SignalType
	OrderID    string
	GatewayRef string
}

// ErrQueueFull is returned when the signal buffer is saturated. The gateway
// retries its callback, so dropping with an error is safe.
var ErrQueueFull = errors.New("signal queue full")

// ConsistencyError reports a state the listener cannot reconcile on its own,
// such as a missing pending-order slot for an unfinalized order. It is fatal
// for the completion attempt; the shopper is routed to their order history
// instead of guessing.
type ConsistencyError struct {
	OrderID string
	Reason  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("payment confirmation inconsistency for order %s: %s", e.OrderID, e.Reason)
}

// FinalizeError wraps a failed completion call. The order remains pending
// and is never silently lost nor silently finalized.
type FinalizeError struct {
	OrderID string
	Err     error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize payment for order %s: %v", e.OrderID, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

// Listener consumes completion signals and drives the order ledger's
// finalize, the cart clear, and the pending-slot release, in that order.
type Listener struct {
	signals  chan Signal
	ledger   *order.Ledger
	carts    *cart.Service
	pending  pendingorder.Store
	checkout *checkout.Orchestrator
	lg       *zap.Logger
}

// New creates a Listener with the given signal buffer size.
func New(
	buffer int,
	ledger *order.Ledger,
	carts *cart.Service,
	pending pendingorder.Store,
	orch *checkout.Orchestrator,
	lg *zap.Logger,
) *Listener {
	if buffer < 1 {
		buffer = 64
	}
	return &Listener{
		signals:  make(chan Signal, buffer),
		ledger:   ledger,
		carts:    carts,
		pending:  pending,
		checkout: orch,
		lg:       lg,
	}
}

// Enqueue hands a signal to the listener without blocking the caller.
func (l *Listener) Enqueue(sig Signal) error {
	select {
	case l.signals <- sig:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes signals until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-l.signals:
			if err := l.Handle(ctx, sig); err != nil {
				l.lg.Error("payment signal failed",
					zap.String("type", string(sig.Type)),
					zap.String("order_id", sig.OrderID),
					zap.Error(err),
				)
			}
		}
	}
}

// Handle processes a single signal. It is safe to call for duplicated
// deliveries of the same signal: the ledger finalize is idempotent and the
// cart is cleared exactly once, by the call that performed the transition.
// Signals are handled outside the callback request's span, so each gets a
// root span of its own.
func (l *Listener) Handle(ctx context.Context, sig Signal) error {
	ctx, span := otel.Tracer("listener").Start(ctx, "listener.Handle",
		trace.WithAttributes(
			attribute.String("signal.type", string(sig.Type)),
			attribute.String("order.id", sig.OrderID),
		),
	)
	defer span.End()

	var err error
	switch sig.Type {
	case SignalPaymentSuccess:
		err = l.handleSuccess(ctx, sig)
	case SignalPaymentFailure:
		err = l.handleFailure(ctx, sig)
	default:
		err = errors.Errorf("unknown signal type %q", sig.Type)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (l *Listener) handleSuccess(ctx context.Context, sig Signal) error {
	ord, err := l.ledger.GetOrder(ctx, sig.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}

	slot, ok, err := l.pending.Get(ctx, ord.ShopperID)
	if err != nil {
		return errors.Wrap(err, "read pending slot")
	}
	if !ok {
		// An already-finalized order with a released slot is the signature
		// of a duplicated signal: nothing left to do.
		if ord.Intent.Status.Terminal() {
			return nil
		}
		return &ConsistencyError{OrderID: sig.OrderID, Reason: "pending-order slot missing"}
	}
	if slot != sig.OrderID {
		return &ConsistencyError{
			OrderID: sig.OrderID,
			Reason:  fmt.Sprintf("pending-order slot holds %s", slot),
		}
	}

	intent, finalized, err := l.ledger.CompletePayment(ctx, sig.OrderID, sig.GatewayRef)
	if err != nil {
		return &FinalizeError{OrderID: sig.OrderID, Err: err}
	}
	if !finalized {
		// Another delivery won the race; it already cleared the cart.
		l.lg.Info("duplicate completion signal ignored",
			zap.String("order_id", sig.OrderID),
			zap.String("status", string(intent.Status)),
		)
		return nil
	}

	// Only after a successful finalize: clear the cart and release the slot.
	if _, err := l.carts.Clear(ctx, ord.ShopperID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	if err := l.pending.Release(ctx, ord.ShopperID); err != nil {
		return errors.Wrap(err, "release pending slot")
	}
	if err := l.checkout.CompleteSubmission(ctx, ord.ShopperID, ord.ID); err != nil {
		return errors.Wrap(err, "complete checkout session")
	}

	l.lg.Info("payment finalized",
		zap.String("order_id", ord.ID),
		zap.String("shopper_id", ord.ShopperID),
		zap.String("amount", intent.Amount.StringFixed(2)),
	)
	return nil
}

func (l *Listener) handleFailure(ctx context.Context, sig Signal) error {
	ord, err := l.ledger.GetOrder(ctx, sig.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}

	slot, ok, err := l.pending.Get(ctx, ord.ShopperID)
	if err != nil {
		return errors.Wrap(err, "read pending slot")
	}
	if !ok || slot != sig.OrderID {
		// The slot no longer references this order. For an already-settled
		// intent this is a re-delivered signal; the shopper may meanwhile
		// have a newer pending order occupying the slot, which must not be
		// released on its behalf.
		if ord.Intent.Status.Terminal() {
			l.lg.Info("stale failure signal ignored",
				zap.String("order_id", sig.OrderID),
				zap.String("status", string(ord.Intent.Status)),
			)
			return nil
		}
		if !ok {
			return &ConsistencyError{OrderID: sig.OrderID, Reason: "pending-order slot missing"}
		}
		return &ConsistencyError{
			OrderID: sig.OrderID,
			Reason:  fmt.Sprintf("pending-order slot holds %s", slot),
		}
	}

	if _, err := l.ledger.FailPayment(ctx, sig.OrderID); err != nil {
		return errors.Wrap(err, "fail payment")
	}
	if err := l.pending.Release(ctx, ord.ShopperID); err != nil {
		return errors.Wrap(err, "release pending slot")
	}
	if err := l.checkout.AbortSubmission(ctx, ord.ShopperID); err != nil {
		return errors.Wrap(err, "return checkout to review")
	}

	l.lg.Info("payment failed, order retryable",
		zap.String("order_id", ord.ID),
		zap.String("shopper_id", ord.ShopperID),
	)
	return nil
}
