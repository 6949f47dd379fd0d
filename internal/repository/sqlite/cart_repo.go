package sqlite

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/model"
)

func (d *DB) ListCart(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error) {
	const q = `
SELECT id, user_id, product_ref, product_name, unit_price, quantity, customization, added_at
FROM cart_items WHERE user_id=? ORDER BY added_at, id`
	rows, err := d.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CartItem
	for rows.Next() {
		var c model.CartItem
		if err := rows.Scan(&c.ID, &c.UserID, &c.ProductRef, &c.ProductName, &c.UnitPrice,
			&c.Quantity, &c.Customization, &c.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) InsertCartItem(ctx context.Context, c model.CartItem) error {
	const q = `
INSERT INTO cart_items (id, user_id, product_ref, product_name, unit_price, quantity, customization, added_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, q, c.ID, c.UserID, c.ProductRef, c.ProductName, c.UnitPrice,
		c.Quantity, c.Customization, c.AddedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("cart item %s: %w", c.ProductRef, errs.ErrAlreadyExists)
	}
	return err
}

func (d *DB) UpdateCartQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) error {
	res, err := d.db.ExecContext(ctx, `UPDATE cart_items SET quantity=? WHERE id=? AND user_id=?`, quantity, itemID, userID)
	if err != nil {
		return err
	}
	return affected(res)
}

func (d *DB) RemoveCartItem(ctx context.Context, userID, itemID uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id=? AND user_id=?`, itemID, userID)
	if err != nil {
		return err
	}
	return affected(res)
}

type result interface{ RowsAffected() (int64, error) }

func affected(res result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
