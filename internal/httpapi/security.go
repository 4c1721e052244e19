package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/cartflow/checkout/internal/domain/auth"
)

type shopperKey struct{}

// ShopperFromContext returns the authenticated shopper id, if any.
func ShopperFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(shopperKey{}).(string)
	return id, ok
}

// authed wraps a handler with bearer-token authentication. A missing or
// unknown token yields 401; an expired token additionally hints at
// re-authentication so the client can redirect to sign-in without dropping
// the checkout state, which lives server-side.
func (h *Handler) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "session token required")
			return
		}

		sess, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrSessionExpired):
				respondJSON(w, http.StatusUnauthorized, errorResponse{
					Code:    http.StatusUnauthorized,
					Message: "session expired",
					Hint:    "sign in again; your checkout progress is kept",
				})
			case errors.Is(err, auth.ErrSessionNotFound):
				respondError(w, http.StatusUnauthorized, "invalid session token")
			default:
				respondDomainError(w, r, err)
			}
			return
		}

		ctx := context.WithValue(r.Context(), shopperKey{}, sess.ShopperID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// shopper extracts the shopper id placed by authed. Reaching this without
// one is a programming error in route wiring.
func shopper(r *http.Request) string {
	id, _ := ShopperFromContext(r.Context())
	return id
}
