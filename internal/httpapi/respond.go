package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/checkout"
	"github.com/cartflow/checkout/internal/domain/coupon"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
	"github.com/cartflow/checkout/internal/domain/product"
)

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	Hint    string   `json:"hint,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

// respondDomainError maps domain errors onto the wire taxonomy. Validation
// and coupon rejections are recoverable and keep the shopper where they are;
// session errors trigger re-authentication; gateway initiation failures are
// retryable; consistency errors route the shopper to order history.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		valErr  *checkout.ValidationError
		initErr *payment.InitiationError
	)

	switch {
	case errors.As(err, &valErr):
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: "required fields missing",
			Fields:  valErr.Fields,
		})

	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrMethodRequired),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, order.ErrEmptyItems):
		respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrNotOwned),
		errors.Is(err, coupon.ErrAmbiguousCode),
		errors.Is(err, coupon.ErrInvalidPercent):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: err.Error(),
		})

	case errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, checkout.ErrSubmitInFlight):
		respondError(w, http.StatusConflict, "a submit is already in flight")

	case errors.Is(err, checkout.ErrNotAtReview),
		errors.Is(err, checkout.ErrAlreadySubmitted):
		respondError(w, http.StatusConflict, err.Error())

	case errors.As(err, &initErr):
		respondJSON(w, http.StatusBadGateway, errorResponse{
			Code:    http.StatusBadGateway,
			Message: initErr.Error(),
			Hint:    "your order is saved; retry the payment from checkout",
		})

	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
