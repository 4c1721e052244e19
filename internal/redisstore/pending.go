// Package redisstore provides Redis-backed implementations of the durable
// checkout-side stores: the per-shopper pending-order slot and the checkout
// session. Both must survive a full client context reload, which rules out
// process memory.
package redisstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/cartflow/checkout/internal/pendingorder"
)

const pendingKeyPrefix = "checkout:pending:"

var _ pendingorder.Store = (*PendingOrderStore)(nil)

// PendingOrderStore keeps the single-entry shopper -> pending order id
// association in Redis. The TTL is storage hygiene only: the order itself
// stays pending regardless, since no abandonment timeout is defined.
type PendingOrderStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPendingOrderStore creates a PendingOrderStore with the given TTL.
func NewPendingOrderStore(rdb *redis.Client, ttl time.Duration) *PendingOrderStore {
	return &PendingOrderStore{rdb: rdb, ttl: ttl}
}

// Put records the shopper's pending order id, replacing any previous entry.
func (s *PendingOrderStore) Put(ctx context.Context, shopperID, orderID string) error {
	if err := s.rdb.Set(ctx, pendingKeyPrefix+shopperID, orderID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set pending order")
	}
	return nil
}

// Get returns the recorded order id and whether one exists.
func (s *PendingOrderStore) Get(ctx context.Context, shopperID string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, pendingKeyPrefix+shopperID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get pending order")
	}
	return val, true, nil
}

// Release removes the entry; releasing an absent entry is a no-op.
func (s *PendingOrderStore) Release(ctx context.Context, shopperID string) error {
	if err := s.rdb.Del(ctx, pendingKeyPrefix+shopperID).Err(); err != nil {
		return errors.Wrap(err, "release pending order")
	}
	return nil
}
