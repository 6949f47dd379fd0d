package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/model"
)

// CartRepo implements repository.CartRepository using PostgreSQL.
type CartRepo struct{ db *DB }

// NewCartRepo constructs a cart repository.
func NewCartRepo(db *DB) *CartRepo { return &CartRepo{db: db} }

// ListCart returns the user's cart lines in insertion order.
func (r *CartRepo) ListCart(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error) {
	const q = `
SELECT id, user_id, product_ref, product_name, unit_price, quantity, customization, added_at
FROM cart_items WHERE user_id=$1 ORDER BY added_at, id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
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

// InsertCartItem inserts a line; a duplicate product yields errs.ErrAlreadyExists.
func (r *CartRepo) InsertCartItem(ctx context.Context, c model.CartItem) error {
	const q = `
INSERT INTO cart_items (id, user_id, product_ref, product_name, unit_price, quantity, customization, added_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.UserID, c.ProductRef, c.ProductName, c.UnitPrice,
		c.Quantity, c.Customization, c.AddedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("cart item %s: %w", c.ProductRef, errs.ErrAlreadyExists)
	}
	return err
}

// UpdateCartQuantity sets the quantity of one line.
func (r *CartRepo) UpdateCartQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE cart_items SET quantity=$1 WHERE id=$2 AND user_id=$3`, quantity, itemID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RemoveCartItem deletes one line.
func (r *CartRepo) RemoveCartItem(ctx context.Context, userID, itemID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM cart_items WHERE id=$1 AND user_id=$2`, itemID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
