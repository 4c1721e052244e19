// Package pendingorder defines the durable single-entry association between
// a shopper and the order awaiting gateway confirmation. The slot must
// survive a full client context reload, so implementations are backed by
// durable storage, never process memory. It is always read, written, and
// released explicitly; nothing infers it.
package pendingorder

import "context"

// Store holds at most one pending order id per shopper.
type Store interface {
	// Put records the shopper's pending order, replacing any previous entry.
	Put(ctx context.Context, shopperID, orderID string) error
	// Get returns the pending order id and whether one is recorded.
	Get(ctx context.Context, shopperID string) (string, bool, error)
	// Release removes the entry. Releasing an absent entry is a no-op.
	Release(ctx context.Context, shopperID string) error
}
