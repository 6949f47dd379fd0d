package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/model"
)

// OrderRepo implements repository.OrderRepository using PostgreSQL.
type OrderRepo struct{ db *DB }

// NewOrderRepo constructs an order repository.
func NewOrderRepo(db *DB) *OrderRepo { return &OrderRepo{db: db} }

// CreateOrderFromCart inserts the order and its items and clears the owner's cart atomically.
func (r *OrderRepo) CreateOrderFromCart(ctx context.Context, o *model.Order) error {
	const insOrder = `
INSERT INTO orders (id, user_id, total_amount, status, payment_status, tracking_number,
	customer_name, customer_email, customer_phone, customer_address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	const insItem = `
INSERT INTO order_items (order_id, position, product_ref, product_name, unit_price, quantity, customization)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	const clearCart = `DELETE FROM cart_items WHERE user_id=$1`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insOrder, o.ID, o.UserID, o.TotalAmount, string(o.Status),
			string(o.PaymentStatus), o.TrackingNumber, o.Customer.Name, o.Customer.Email,
			o.Customer.Phone, o.Customer.Address, o.CreatedAt, o.UpdatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i, it := range o.Items {
			if _, err := tx.Exec(ctx, insItem, o.ID, i, it.ProductRef, it.ProductName,
				it.UnitPrice, it.Quantity, it.Customization); err != nil {
				return fmt.Errorf("insert order item %d: %w", i, err)
			}
		}
		if _, err := tx.Exec(ctx, clearCart, o.UserID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
}

const selectOrder = `
SELECT id, user_id, total_amount, status, payment_status, tracking_number,
	customer_name, customer_email, customer_phone, customer_address, created_at, updated_at
FROM orders`

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o               model.Order
		status, payment string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &payment, &o.TrackingNumber,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&o.CreatedAt, &o.UpdatedAt)
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(payment)
	return o, err
}

// GetOrder loads one order with its items.
func (r *OrderRepo) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.db.Pool.QueryRow(ctx, selectOrder+` WHERE id=$1 AND user_id=$2`, orderID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns the user's orders, newest first.
func (r *OrderRepo) ListOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.db.Pool.Query(ctx, selectOrder+` WHERE user_id=$1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *OrderRepo) items(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	const q = `
SELECT product_ref, product_name, unit_price, quantity, customization
FROM order_items WHERE order_id=$1 ORDER BY position`
	rows, err := r.db.Pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductRef, &it.ProductName, &it.UnitPrice, &it.Quantity, &it.Customization); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateOrderStatus persists the fulfilment fields.
func (r *OrderRepo) UpdateOrderStatus(ctx context.Context, o *model.Order) error {
	const q = `
UPDATE orders SET status=$1, payment_status=$2, tracking_number=$3, updated_at=$4
WHERE id=$5 AND user_id=$6`
	tag, err := r.db.Pool.Exec(ctx, q, string(o.Status), string(o.PaymentStatus), o.TrackingNumber,
		o.UpdatedAt, o.ID, o.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
