package httpapi

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/cartflow/checkout/internal/domain/cart"
	"github.com/cartflow/checkout/internal/domain/product"
)

type cartItemView struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Color     string  `json:"color,omitempty"`
	LineTotal float64 `json:"lineTotal"`
}

type cartView struct {
	Items    []cartItemView `json:"items"`
	Subtotal float64        `json:"subtotal"`
}

func viewCart(c *cart.Cart) cartView {
	items := make([]cartItemView, len(c.Items))
	for i, it := range c.Items {
		items[i] = cartItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.InexactFloat64(),
			Quantity:  it.Quantity,
			Color:     it.Color,
			LineTotal: it.LineTotal().InexactFloat64(),
		}
	}
	return cartView{Items: items, Subtotal: c.Subtotal.InexactFloat64()}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	type productView struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Price    float64  `json:"price"`
		Category string   `json:"category"`
		Colors   []string `json:"colors,omitempty"`
	}
	views := make([]productView, len(products))
	for i, p := range products {
		views[i] = productView{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price.InexactFloat64(),
			Category: p.Category,
			Colors:   p.Colors,
		}
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), shopper(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(c))
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		Color     string `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "productId required")
		return
	}

	c, err := h.carts.AddItem(r.Context(), shopper(r), req.ProductID, req.Quantity, req.Color)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(c))
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	c, err := h.carts.UpdateQuantity(r.Context(), shopper(r), r.PathValue("productID"), req.Quantity)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(c))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), shopper(r), r.PathValue("productID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(c))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), shopper(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCart(c))
}
