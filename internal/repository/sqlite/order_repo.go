package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/model"
)

func (d *DB) CreateOrderFromCart(ctx context.Context, o *model.Order) error {
	const insOrder = `
INSERT INTO orders (id, user_id, total_amount, status, payment_status, tracking_number,
	customer_name, customer_email, customer_phone, customer_address, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	const insItem = `
INSERT INTO order_items (order_id, position, product_ref, product_name, unit_price, quantity, customization)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	const clearCart = `DELETE FROM cart_items WHERE user_id=?`

	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insOrder, o.ID, o.UserID, o.TotalAmount, string(o.Status),
			string(o.PaymentStatus), o.TrackingNumber, o.Customer.Name, o.Customer.Email,
			o.Customer.Phone, o.Customer.Address, o.CreatedAt, o.UpdatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i, it := range o.Items {
			if _, err := tx.ExecContext(ctx, insItem, o.ID, i, it.ProductRef, it.ProductName,
				it.UnitPrice, it.Quantity, it.Customization); err != nil {
				return fmt.Errorf("insert order item %d: %w", i, err)
			}
		}
		if _, err := tx.ExecContext(ctx, clearCart, o.UserID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
}

const selectOrder = `
SELECT id, user_id, total_amount, status, payment_status, tracking_number,
	customer_name, customer_email, customer_phone, customer_address, created_at, updated_at
FROM orders`

func scanOrder(scan func(dest ...any) error) (model.Order, error) {
	var (
		o               model.Order
		status, payment string
	)
	err := scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &payment, &o.TrackingNumber,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&o.CreatedAt, &o.UpdatedAt)
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(payment)
	return o, err
}

func (d *DB) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error) {
	row := d.db.QueryRowContext(ctx, selectOrder+` WHERE id=? AND user_id=?`, orderID, userID)
	o, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if o.Items, err = d.orderItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (d *DB) ListOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := d.db.QueryContext(ctx, selectOrder+` WHERE user_id=? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	// single connection: release it before loading items
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = d.orderItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *DB) orderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	const q = `
SELECT product_ref, product_name, unit_price, quantity, customization
FROM order_items WHERE order_id=? ORDER BY position`
	rows, err := d.db.QueryContext(ctx, q, orderID)
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

func (d *DB) UpdateOrderStatus(ctx context.Context, o *model.Order) error {
	const q = `
UPDATE orders SET status=?, payment_status=?, tracking_number=?, updated_at=?
WHERE id=? AND user_id=?`
	res, err := d.db.ExecContext(ctx, q, string(o.Status), string(o.PaymentStatus), o.TrackingNumber,
		o.UpdatedAt, o.ID, o.UserID)
	if err != nil {
		return err
	}
	return affected(res)
}
