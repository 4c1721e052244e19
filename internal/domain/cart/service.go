package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/cartflow/checkout/internal/domain/product"
)

// CouponInvalidator drops any coupon discount applied to the shopper's
// checkout. Every successful cart mutation must invalidate the discount,
// because it was computed against a subtotal that no longer holds.
type CouponInvalidator interface {
	InvalidateCoupon(ctx context.Context, shopperID string) error
}

// Service owns cart mutations for one shopper at a time. Every mutation
// returns the full refreshed cart so callers never total up a stale partial
// view.
type Service struct {
	carts    Repository
	products product.Repository
	coupons  CouponInvalidator
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository, coupons CouponInvalidator) *Service {
	return &Service{carts: carts, products: products, coupons: coupons}
}

// Get returns the shopper's cart, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, shopperID string) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	c.Subtotal = ComputeSubtotal(c.Items)
	return c, nil
}

// AddItem adds quantity units of a product to the cart, capturing the catalog
// price. Adding a product already in the cart increments its quantity and
// updates the color variant.
func (s *Service) AddItem(ctx context.Context, shopperID, productID string, quantity int, color string) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %s", productID)
	}
	if !p.HasColor(color) {
		return nil, errors.Errorf("product %s has no color %q", productID, color)
	}

	c, err := s.carts.GetOrCreate(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	item := Item{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  quantity,
		Color:     color,
	}
	for _, existing := range c.Items {
		if existing.ProductID == productID {
			item.Quantity += existing.Quantity
			break
		}
	}

	if err := s.carts.UpsertItem(ctx, c.ID, item); err != nil {
		return nil, errors.Wrap(err, "upsert item")
	}
	return s.refresh(ctx, shopperID)
}

// UpdateQuantity sets the quantity of an existing line item. Quantities below
// 1 are rejected; callers must use RemoveItem instead.
func (s *Service) UpdateQuantity(ctx context.Context, shopperID, productID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.carts.GetOrCreate(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.SetQuantity(ctx, c.ID, productID, quantity); err != nil {
		return nil, err
	}
	return s.refresh(ctx, shopperID)
}

// RemoveItem deletes a line item from the cart.
func (s *Service) RemoveItem(ctx context.Context, shopperID, productID string) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.RemoveItem(ctx, c.ID, productID); err != nil {
		return nil, err
	}
	return s.refresh(ctx, shopperID)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, shopperID string) (*Cart, error) {
	c, err := s.carts.GetOrCreate(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return s.refresh(ctx, shopperID)
}

// refresh re-reads the cart, recomputes the subtotal, and invalidates any
// applied coupon discount.
func (s *Service) refresh(ctx context.Context, shopperID string) (*Cart, error) {
	if err := s.coupons.InvalidateCoupon(ctx, shopperID); err != nil {
		return nil, errors.Wrap(err, "invalidate coupon")
	}

	c, err := s.carts.GetOrCreate(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "reload cart")
	}
	c.Subtotal = ComputeSubtotal(c.Items)
	return c, nil
}
