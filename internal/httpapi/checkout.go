package httpapi

import (
	"net/http"

	"github.com/cartflow/checkout/internal/domain/checkout"
	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
)

type checkoutView struct {
	Step           string       `json:"step"`
	Shipping       shippingView `json:"shipping"`
	Method         string       `json:"method,omitempty"`
	Coupon         *appliedView `json:"coupon,omitempty"`
	PendingOrderID string       `json:"pendingOrderId,omitempty"`
	OrderID        string       `json:"orderId,omitempty"`
}

type shippingView struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	Phone   string `json:"phone"`
}

type appliedView struct {
	Code            string  `json:"code"`
	DiscountPercent int     `json:"discountPercent"`
	DiscountedTotal float64 `json:"discountedTotal"`
}

func viewCheckout(s *checkout.Session) checkoutView {
	v := checkoutView{
		Step: s.Step.String(),
		Shipping: shippingView{
			Name:    s.Shipping.Name,
			Email:   s.Shipping.Email,
			Address: s.Shipping.Address,
			City:    s.Shipping.City,
			Phone:   s.Shipping.Phone,
		},
		Method:         string(s.Method),
		PendingOrderID: s.PendingOrderID,
		OrderID:        s.OrderID,
	}
	if s.Applied != nil {
		v.Coupon = &appliedView{
			Code:            s.Applied.Code,
			DiscountPercent: s.Applied.DiscountPercent,
			DiscountedTotal: s.Applied.DiscountedTotal.InexactFloat64(),
		}
	}
	return v
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.Session(r.Context(), shopper(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCheckout(sess))
}

func (h *Handler) setShipping(w http.ResponseWriter, r *http.Request) {
	var req shippingView
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sess, err := h.checkout.SetShipping(r.Context(), shopper(r), order.ShippingInfo{
		Name:    req.Name,
		Email:   req.Email,
		Address: req.Address,
		City:    req.City,
		Phone:   req.Phone,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCheckout(sess))
}

func (h *Handler) selectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sess, err := h.checkout.SelectPaymentMethod(r.Context(), shopper(r), payment.Method(req.Method))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCheckout(sess))
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code required")
		return
	}

	sess, err := h.checkout.ApplyCoupon(r.Context(), shopper(r), req.Code)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCheckout(sess))
}

func (h *Handler) stepBack(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.Back(r.Context(), shopper(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCheckout(sess))
}

type submitView struct {
	OrderID   string  `json:"orderId"`
	Total     float64 `json:"total"`
	Finalized bool    `json:"finalized"`

	// Set for the gateway method: the client opens a second context at
	// RedirectTarget and posts FormFields as the initial request.
	RedirectTarget string            `json:"redirectTarget,omitempty"`
	FormFields     map[string]string `json:"formFields,omitempty"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.checkout.Submit(r.Context(), shopper(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	v := submitView{
		OrderID:   res.OrderID,
		Total:     res.Total.InexactFloat64(),
		Finalized: res.Finalized,
	}
	if res.Initiation != nil && !res.Initiation.Immediate {
		v.RedirectTarget = res.Initiation.RedirectTarget
		v.FormFields = res.Initiation.FormFields
	}
	respondJSON(w, http.StatusOK, v)
}
