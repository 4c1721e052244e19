package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartflow/checkout/internal/domain/auth"
)

const getSessionByHashSQL = `SELECT token_hash, shopper_id, expires_at
	FROM shopper_sessions WHERE token_hash = $1`

var _ auth.Repository = (*SessionRepository)(nil)

// SessionRepository implements auth.Repository backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// FindByHash looks up a session by its token hash. Expiry is enforced by the
// auth service, not here, so the service can distinguish expired from absent.
func (r *SessionRepository) FindByHash(ctx context.Context, hash string) (*auth.Session, error) {
	var (
		s         auth.Session
		expiresAt time.Time
	)
	err := r.pool.QueryRow(ctx, getSessionByHashSQL, hash).Scan(&s.TokenHash, &s.ShopperID, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	s.ExpiresAt = expiresAt
	return &s, nil
}
