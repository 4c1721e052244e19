package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Method selects one of the two payment strategies.
type Method string

const (
	// MethodCOD is cash-on-delivery: synchronous, finalized at order creation.
	MethodCOD Method = "cod"
	// MethodGateway is the redirect-based external gateway: asynchronous,
	// finalized later by the confirmation listener.
	MethodGateway Method = "gateway"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	return m == MethodCOD || m == MethodGateway
}

// Status is the settlement state of a payment intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change. Completed and
// failed are terminal for an intent instance; retrying a failed payment
// produces a new order with a new intent.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Intent records how and whether an order's payment was settled. It is owned
// by exactly one order, created with it, and mutated only by the order
// ledger's finalize operations.
type Intent struct {
	Method         Method
	Amount         decimal.Decimal
	Currency       string
	GatewayOrderID string
	Status         Status
}

// InitiationError indicates the external gateway could not be engaged:
// unreachable, rejected the registration, or the redirect could not be
// produced. The order stays pending and the attempt may be retried.
type InitiationError struct {
	Reason string
	Err    error
}

func (e *InitiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway initiation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway initiation failed: %s", e.Reason)
}

func (e *InitiationError) Unwrap() error { return e.Err }
