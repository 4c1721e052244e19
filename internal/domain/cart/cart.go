package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity is returned when a quantity below 1 is requested.
	// Removing an item entirely goes through RemoveItem, never quantity 0.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrItemNotFound is returned when mutating a line item that is not in
	// the cart.
	ErrItemNotFound = errors.New("item not in cart")
)

// Item is one line of a shopper's cart. UnitPrice is the catalog price
// captured at add-time.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Color     string
}

// LineTotal returns UnitPrice multiplied by Quantity.
func (it Item) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Cart is the authoritative, per-shopper collection of line items. Subtotal
// is always derived from Items, never stored independently.
type Cart struct {
	ID        string
	ShopperID string
	Items     []Item
	Subtotal  decimal.Decimal
}

// ComputeSubtotal derives the subtotal from the current items.
func ComputeSubtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Repository defines persistence operations for carts. Implementations key
// carts by shopper; a cart is created lazily on first access.
type Repository interface {
	GetOrCreate(ctx context.Context, shopperID string) (*Cart, error)
	UpsertItem(ctx context.Context, cartID string, item Item) error
	SetQuantity(ctx context.Context, cartID, productID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, productID string) error
	Clear(ctx context.Context, cartID string) error
}
