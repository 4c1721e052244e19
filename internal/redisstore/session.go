package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/cartflow/checkout/internal/domain/checkout"
)

const (
	sessionKeyPrefix = "checkout:session:"
	submitKeyPrefix  = "checkout:submit:"

	// submitLockTTL bounds how long a crashed submit can block retries.
	submitLockTTL = 30 * time.Second
)

var _ checkout.SessionStore = (*SessionStore)(nil)

// SessionStore keeps checkout sessions in Redis as JSON. Because the session
// outlives the auth token, an expired token does not lose entered shipping
// data: the shopper re-authenticates and resumes the same session.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore creates a SessionStore with the given session TTL.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Get returns the shopper's session, or a fresh one at the shipping step.
func (s *SessionStore) Get(ctx context.Context, shopperID string) (*checkout.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+shopperID).Bytes()
	if errors.Is(err, redis.Nil) {
		return &checkout.Session{ShopperID: shopperID, Step: checkout.StepShipping}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get checkout session")
	}

	var sess checkout.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "decode checkout session")
	}
	return &sess, nil
}

// Put stores the session, refreshing its TTL.
func (s *SessionStore) Put(ctx context.Context, sess *checkout.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode checkout session")
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+sess.ShopperID, raw, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "put checkout session")
	}
	return nil
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, shopperID string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+shopperID).Err(); err != nil {
		return errors.Wrap(err, "delete checkout session")
	}
	return nil
}

// TrySubmitLock acquires the shopper's submit guard with SET NX, so exactly
// one in-flight submit can exist across all server instances.
func (s *SessionStore) TrySubmitLock(ctx context.Context, shopperID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, submitKeyPrefix+shopperID, "1", submitLockTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire submit lock")
	}
	return ok, nil
}

// ReleaseSubmitLock drops the submit guard.
func (s *SessionStore) ReleaseSubmitLock(ctx context.Context, shopperID string) error {
	if err := s.rdb.Del(ctx, submitKeyPrefix+shopperID).Err(); err != nil {
		return errors.Wrap(err, "release submit lock")
	}
	return nil
}

// InvalidateCoupon clears the applied coupon discount from the shopper's
// session. Cart mutations call this: the discount was computed against a
// subtotal that no longer holds. A mutation after a completed checkout means
// the shopper is shopping again, so the submitted session is dropped and the
// next access starts a fresh one.
func (s *SessionStore) InvalidateCoupon(ctx context.Context, shopperID string) error {
	sess, err := s.Get(ctx, shopperID)
	if err != nil {
		return err
	}
	if sess.Step == checkout.StepSubmitted {
		return s.Delete(ctx, shopperID)
	}
	if sess.Applied == nil {
		return nil
	}
	sess.Applied = nil
	return s.Put(ctx, sess)
}
