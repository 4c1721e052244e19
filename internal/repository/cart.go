package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartflow/checkout/internal/domain/cart"
)

const (
	getCartSQL = `SELECT id FROM carts WHERE shopper_id = $1`

	// ON CONFLICT keeps the per-shopper cart unique under concurrent first
	// fetches.
	createCartSQL = `INSERT INTO carts (id, shopper_id) VALUES ($1, $2)
		ON CONFLICT (shopper_id) DO UPDATE SET shopper_id = EXCLUDED.shopper_id
		RETURNING id`

	listCartItemsSQL = `SELECT product_id, name, unit_price, quantity, color
		FROM cart_items WHERE cart_id = $1 ORDER BY added_at, product_id`

	upsertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, name, unit_price, quantity, color)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, color = EXCLUDED.color, unit_price = EXCLUDED.unit_price`

	setQuantitySQL = `UPDATE cart_items SET quantity = $3
		WHERE cart_id = $1 AND product_id = $2`

	removeItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. The
// subtotal is never stored; it is derived by the domain from the items.
type CartRepository struct {
	pool  *pgxpool.Pool
	newID func() string
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool, newID func() string) *CartRepository {
	return &CartRepository{pool: pool, newID: newID}
}

// GetOrCreate returns the shopper's cart with its items, creating an empty
// cart lazily on first access.
func (r *CartRepository) GetOrCreate(ctx context.Context, shopperID string) (*cart.Cart, error) {
	var cartID string
	err := r.pool.QueryRow(ctx, getCartSQL, shopperID).Scan(&cartID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, createCartSQL, r.newID(), shopperID).Scan(&cartID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart for shopper %q: %w", shopperID, err)
	}

	rows, err := r.pool.Query(ctx, listCartItemsSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}

	return &cart.Cart{ID: cartID, ShopperID: shopperID, Items: items}, nil
}

// UpsertItem inserts the line item or replaces its quantity and color.
func (r *CartRepository) UpsertItem(ctx context.Context, cartID string, item cart.Item) error {
	_, err := r.pool.Exec(ctx, upsertCartItemSQL,
		cartID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, item.Color,
	)
	if err != nil {
		return fmt.Errorf("upserting cart item %q: %w", item.ProductID, err)
	}
	return nil
}

// SetQuantity updates an existing line item's quantity. The schema enforces
// quantity >= 1; quantity 0 is expressed by RemoveItem, never stored.
func (r *CartRepository) SetQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	tag, err := r.pool.Exec(ctx, setQuantitySQL, cartID, productID, quantity)
	if err != nil {
		return fmt.Errorf("updating quantity for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// RemoveItem deletes a line item.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, productID string) error {
	tag, err := r.pool.Exec(ctx, removeItemSQL, cartID, productID)
	if err != nil {
		return fmt.Errorf("removing cart item %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear deletes every line item in the cart.
func (r *CartRepository) Clear(ctx context.Context, cartID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %q: %w", cartID, err)
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var it cart.Item
	err := row.Scan(&it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Color)
	return it, err
}
