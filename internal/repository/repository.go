// Package repository defines the local store interfaces implemented by the
// sqlite (default) and postgres backends. Every read is scoped by user.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/petmem/internal/model"
)

// ChangeSet is the outcome of one reconciliation pass for one entity kind.
type ChangeSet[T any] struct {
	Inserts []T
	Updates []T
	Deletes []uuid.UUID
}

// Empty reports whether the set carries no change.
func (c ChangeSet[T]) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// EntityRepository stores one synced entity kind.
type EntityRepository[T any] interface {
	// ListByUser returns the rows owned by userID.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]T, error)
	// ApplyChanges writes the whole set in one transaction; deletes and
	// updates are restricted to rows owned by userID.
	ApplyChanges(ctx context.Context, userID uuid.UUID, cs ChangeSet[T]) error
}

// CartRepository stores local cart lines.
type CartRepository interface {
	// ListCart returns userID's cart ordered by AddedAt.
	ListCart(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error)
	// InsertCartItem fails with errs.ErrAlreadyExists when the product is already in the cart.
	InsertCartItem(ctx context.Context, item model.CartItem) error
	// UpdateCartQuantity returns errs.ErrNotFound when no such line exists.
	UpdateCartQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) error
	// RemoveCartItem returns errs.ErrNotFound when no such line exists.
	RemoveCartItem(ctx context.Context, userID, itemID uuid.UUID) error
}

// OrderRepository stores orders.
type OrderRepository interface {
	// CreateOrderFromCart inserts the order with its items and clears the
	// owner's cart in the same transaction.
	CreateOrderFromCart(ctx context.Context, o *model.Order) error
	// GetOrder returns errs.ErrNotFound for a missing or foreign order.
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*model.Order, error)
	// ListOrders returns userID's orders, newest first.
	ListOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	// UpdateOrderStatus persists status, payment status, tracking number and UpdatedAt.
	UpdateOrderStatus(ctx context.Context, o *model.Order) error
}

// Wiper removes rows regardless of owner.
type Wiper interface {
	// WipeForLogin clears every synced entity and cart row.
	WipeForLogin(ctx context.Context) error
	// WipeEverything additionally clears orders.
	WipeEverything(ctx context.Context) error
}

// Store is the complete local store.
type Store interface {
	Pets() EntityRepository[model.Pet]
	Videos() EntityRepository[model.MemorialVideo]
	Letters() EntityRepository[model.Letter]
	CartRepository
	OrderRepository
	Wiper
	Close() error
}
