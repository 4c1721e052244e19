package httpapi

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/cartflow/checkout/internal/domain/order"
)

type orderItemView struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Color     string  `json:"color,omitempty"`
}

type orderView struct {
	ID             string          `json:"id"`
	Items          []orderItemView `json:"items"`
	Shipping       shippingView    `json:"shipping"`
	CouponCode     string          `json:"couponCode,omitempty"`
	Subtotal       float64         `json:"subtotal"`
	Discount       float64         `json:"discount"`
	DeliveryCharge float64         `json:"deliveryCharge"`
	Total          float64         `json:"total"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"paymentMethod"`
	PaymentStatus  string          `json:"paymentStatus"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func viewOrder(o *order.Order) orderView {
	items := make([]orderItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.InexactFloat64(),
			Quantity:  it.Quantity,
			Color:     it.Color,
		}
	}
	return orderView{
		ID:    o.ID,
		Items: items,
		Shipping: shippingView{
			Name:    o.Shipping.Name,
			Email:   o.Shipping.Email,
			Address: o.Shipping.Address,
			City:    o.Shipping.City,
			Phone:   o.Shipping.Phone,
		},
		CouponCode:     o.CouponCode,
		Subtotal:       o.Subtotal.InexactFloat64(),
		Discount:       o.Discount.InexactFloat64(),
		DeliveryCharge: o.DeliveryCharge.InexactFloat64(),
		Total:          o.Total.InexactFloat64(),
		Currency:       o.Intent.Currency,
		PaymentMethod:  string(o.Intent.Method),
		PaymentStatus:  string(o.Intent.Status),
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.ledger.ListOrders(r.Context(), shopper(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	views := make([]orderView, len(orders))
	for i := range orders {
		views[i] = viewOrder(&orders[i])
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.ledger.GetOrder(r.Context(), r.PathValue("orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	// Orders are only visible to the shopper who placed them.
	if o.ShopperID != shopper(r) {
		respondDomainError(w, r, errors.Wrap(order.ErrNotFound, "scoped lookup"))
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}
