// Package auth verifies bearer session tokens issued by the identity
// collaborator. Checkout only needs "caller holds a valid session token";
// token issuance lives elsewhere.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrSessionNotFound is returned for an unknown token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned for a known but expired token. Callers
	// surface it as a re-authentication redirect, never a crash.
	ErrSessionExpired = errors.New("session expired")
)

// Session is a validated shopper session.
type Session struct {
	TokenHash string
	ShopperID string
	ExpiresAt time.Time
}

// Repository provides session lookup by token hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Session, error)
}

// Verifier authenticates bearer tokens against stored session hashes.
type Verifier struct {
	sessions Repository
	pepper   []byte
	now      func() time.Time
}

// NewVerifier creates a Verifier. The pepper is mixed into the token hash so
// a leaked sessions table alone cannot be replayed.
func NewVerifier(sessions Repository, pepper []byte) *Verifier {
	return &Verifier{sessions: sessions, pepper: pepper, now: time.Now}
}

// Verify hashes the presented token, looks the session up, and checks
// expiry. The hash comparison is constant-time.
func (v *Verifier) Verify(ctx context.Context, token string) (*Session, error) {
	hash := HashToken(v.pepper, token)

	s, err := v.sessions.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "lookup session")
	}

	stored, err := hex.DecodeString(s.TokenHash)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	computed, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if !hmac.Equal(stored, computed) {
		return nil, ErrSessionNotFound
	}

	if v.now().After(s.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// HashToken computes the hex HMAC-SHA256 of a bearer token.
func HashToken(pepper []byte, token string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
