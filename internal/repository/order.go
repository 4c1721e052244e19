package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartflow/checkout/internal/domain/order"
	"github.com/cartflow/checkout/internal/domain/payment"
)

const (
	createOrderSQL = `INSERT INTO orders (
		id, shopper_id, items,
		ship_name, ship_email, ship_address, ship_city, ship_phone,
		coupon_code, subtotal, discount, delivery_charge, total, currency,
		payment_method, payment_status, gateway_ref, status, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	selectOrderSQL = `SELECT id, shopper_id, items,
		ship_name, ship_email, ship_address, ship_city, ship_phone,
		coupon_code, subtotal, discount, delivery_charge, total, currency,
		payment_method, payment_status, gateway_ref, status, created_at
		FROM orders`

	getOrderSQL = selectOrderSQL + ` WHERE id = $1`

	listOrdersSQL = selectOrderSQL + ` WHERE shopper_id = $1 ORDER BY created_at DESC`

	// The WHERE clause on payment_status makes finalize a single-writer,
	// idempotent critical section: a duplicated completion signal affects
	// zero rows and cannot double-finalize.
	finalizePaymentSQL = `UPDATE orders
		SET payment_status = 'completed',
		    gateway_ref = COALESCE(NULLIF($2, ''), gateway_ref),
		    status = 'processing'
		WHERE id = $1 AND payment_status = 'pending'`

	failPaymentSQL = `UPDATE orders SET payment_status = 'failed'
		WHERE id = $1 AND payment_status = 'pending'`

	getPaymentSQL = `SELECT payment_method, total, currency, gateway_ref, payment_status
		FROM orders WHERE id = $1`

	setStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// items snapshot is serialized to a JSONB column; the live cart is cleared
// right after creation, so this copy is the only durable record.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order together with its payment intent.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.ShopperID, itemsJSON,
		o.Shipping.Name, o.Shipping.Email, o.Shipping.Address, o.Shipping.City, o.Shipping.Phone,
		o.CouponCode, o.Subtotal, o.Discount, o.DeliveryCharge, o.Total, o.Intent.Currency,
		string(o.Intent.Method), string(o.Intent.Status), o.Intent.GatewayOrderID,
		string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns one order, or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByShopper returns the shopper's orders, newest first.
func (r *OrderRepository) ListByShopper(ctx context.Context, shopperID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, shopperID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", shopperID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", shopperID, err)
	}
	return orders, nil
}

// FinalizePayment conditionally moves the intent from pending to completed.
// When the conditional update affects no rows the current state decides the
// outcome: already completed is a no-op, failed is ErrPaymentFinal.
func (r *OrderRepository) FinalizePayment(ctx context.Context, id, gatewayRef string) (*payment.Intent, bool, error) {
	tag, err := r.pool.Exec(ctx, finalizePaymentSQL, id, gatewayRef)
	if err != nil {
		return nil, false, fmt.Errorf("finalizing payment for order %q: %w", id, err)
	}

	intent, err := r.getIntent(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if tag.RowsAffected() == 0 {
		switch intent.Status {
		case payment.StatusCompleted:
			return intent, false, nil
		case payment.StatusFailed:
			return nil, false, order.ErrPaymentFinal
		default:
			return nil, false, fmt.Errorf("finalizing payment for order %q: intent still %s", id, intent.Status)
		}
	}
	return intent, true, nil
}

// FailPayment moves a pending intent to failed. Terminal intents are left
// untouched; failing an already-failed intent is a no-op.
func (r *OrderRepository) FailPayment(ctx context.Context, id string) (*payment.Intent, error) {
	if _, err := r.pool.Exec(ctx, failPaymentSQL, id); err != nil {
		return nil, fmt.Errorf("failing payment for order %q: %w", id, err)
	}
	return r.getIntent(ctx, id)
}

// SetStatus performs the fulfilment transition as a conditional update; a
// concurrent transition away from `from` affects zero rows and reports an
// illegal transition.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, setStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("setting status for order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &order.IllegalTransitionError{From: from, To: to}
	}
	return nil
}

func (r *OrderRepository) getIntent(ctx context.Context, id string) (*payment.Intent, error) {
	var (
		intent payment.Intent
		method string
		status string
	)
	err := r.pool.QueryRow(ctx, getPaymentSQL, id).Scan(
		&method, &intent.Amount, &intent.Currency, &intent.GatewayOrderID, &status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment intent for order %q: %w", id, err)
	}
	intent.Method = payment.Method(method)
	intent.Status = payment.Status(status)
	return &intent, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		method    string
		payStatus string
		status    string
	)
	err := row.Scan(
		&o.ID, &o.ShopperID, &itemsJSON,
		&o.Shipping.Name, &o.Shipping.Email, &o.Shipping.Address, &o.Shipping.City, &o.Shipping.Phone,
		&o.CouponCode, &o.Subtotal, &o.Discount, &o.DeliveryCharge, &o.Total, &o.Intent.Currency,
		&method, &payStatus, &o.Intent.GatewayOrderID, &status, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.Intent.Method = payment.Method(method)
	o.Intent.Status = payment.Status(payStatus)
	o.Intent.Amount = o.Total
	o.Status = order.Status(status)
	return o, nil
}
