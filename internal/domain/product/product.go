package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. Checkout reads
// the price once, at add-to-cart time; it is not re-validated at submission.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	Colors   []string
}

// HasColor reports whether the given color variant is offered for this
// product. An empty color is always accepted; a product with no declared
// variants accepts any requested color.
func (p Product) HasColor(color string) bool {
	if color == "" || len(p.Colors) == 0 {
		return true
	}
	for _, c := range p.Colors {
		if c == color {
			return true
		}
	}
	return false
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
