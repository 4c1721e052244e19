package httpapi

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cartflow/checkout/internal/domain/payment"
	"github.com/cartflow/checkout/internal/listener"
)

// callbackRequest is the gateway's completion message: a tagged variant
// carrying the order id. Delivery is at-most-once but possibly duplicated.
type callbackRequest struct {
	Type       string `json:"type"`
	OrderID    string `json:"order_id"`
	GatewayRef string `json:"gateway_ref"`
	Signature  string `json:"signature"`
}

// paymentCallback receives the gateway's out-of-band completion signal and
// hands it to the confirmation listener. It only authenticates and enqueues;
// finalization happens in the listener's own goroutine.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sigType := listener.SignalType(req.Type)
	if sigType != listener.SignalPaymentSuccess && sigType != listener.SignalPaymentFailure {
		respondError(w, http.StatusBadRequest, "unknown signal type")
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "order_id required")
		return
	}

	if !payment.VerifySignature(h.gatewaySecret, req.Signature, req.Type, req.OrderID, req.GatewayRef) {
		respondError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	err := h.signals.Enqueue(listener.Signal{
		Type:       sigType,
		OrderID:    req.OrderID,
		GatewayRef: req.GatewayRef,
	})
	if err != nil {
		if errors.Is(err, listener.ErrQueueFull) {
			// The gateway retries; shed load instead of blocking.
			respondError(w, http.StatusServiceUnavailable, "busy, retry")
			return
		}
		respondDomainError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("payment signal accepted",
		zap.String("type", req.Type),
		zap.String("order_id", req.OrderID),
	)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
