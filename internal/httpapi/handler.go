// Package httpapi is the JSON HTTP surface of the checkout service.
package httpapi

import (
	"net/http"

	"github.com/cartflow/checkout/internal/domain/auth"
	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/checkout"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/product"
	"github.com/cartflow/checkout/internal/listener"
)

// Handler serves the checkout API, delegating business logic to the injected
// domain services.
type Handler struct {
	products product.Repository
	carts    *cart.Service
	checkout *checkout.Orchestrator
	ledger   *order.Ledger
	signals  *listener.Listener

	verifier      *auth.Verifier
	gatewaySecret []byte
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	products product.Repository,
	carts *cart.Service,
	orch *checkout.Orchestrator,
	ledger *order.Ledger,
	signals *listener.Listener,
	verifier *auth.Verifier,
	gatewaySecret []byte,
) *Handler {
	return &Handler{
		products:      products,
		carts:         carts,
		checkout:      orch,
		ledger:        ledger,
		signals:       signals,
		verifier:      verifier,
		gatewaySecret: gatewaySecret,
	}
}

// Routes registers every API route on the mux. All routes except the gateway
// callback require a bearer session token.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("GET /api/products", h.authed(h.listProducts))

	mux.Handle("GET /api/cart", h.authed(h.getCart))
	mux.Handle("POST /api/cart/items", h.authed(h.addCartItem))
	mux.Handle("PATCH /api/cart/items/{productID}", h.authed(h.updateCartItem))
	mux.Handle("DELETE /api/cart/items/{productID}", h.authed(h.removeCartItem))
	mux.Handle("DELETE /api/cart", h.authed(h.clearCart))

	mux.Handle("GET /api/checkout", h.authed(h.getCheckout))
	mux.Handle("POST /api/checkout/shipping", h.authed(h.setShipping))
	mux.Handle("POST /api/checkout/payment-method", h.authed(h.selectPaymentMethod))
	mux.Handle("POST /api/checkout/coupon", h.authed(h.applyCoupon))
	mux.Handle("POST /api/checkout/back", h.authed(h.stepBack))
	mux.Handle("POST /api/checkout/submit", h.authed(h.submit))

	mux.Handle("GET /api/orders", h.authed(h.listOrders))
	mux.Handle("GET /api/orders/{orderID}", h.authed(h.getOrder))

	// Called by the gateway, not the shopper; authenticated by signature.
	mux.HandleFunc("POST /api/payment/callback", h.paymentCallback)
}
