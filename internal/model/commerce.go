package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Product is the catalogue entry a cart line refers to. Prices are minor units (cents).
type Product struct {
	Ref       string
	Name      string
	UnitPrice int64
}

// CartItem is a local-only cart line; it reaches the backend only through an Order.
type CartItem struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ProductRef    string
	ProductName   string
	UnitPrice     int64
	Quantity      int
	Customization string
	AddedAt       time.Time
}

// Subtotal is UnitPrice × Quantity.
func (c CartItem) Subtotal() int64 { return c.UnitPrice * int64(c.Quantity) }

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
)

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

var orderFlow = map[OrderStatus]OrderStatus{
	OrderPending:    OrderConfirmed,
	OrderConfirmed:  OrderProcessing,
	OrderProcessing: OrderShipped,
	OrderShipped:    OrderDelivered,
}

// Next returns the status that follows s, or false when s is terminal.
func (s OrderStatus) Next() (OrderStatus, bool) {
	n, ok := orderFlow[s]
	return n, ok
}

// CanAdvance reports whether from → to is a single forward step.
func CanAdvance(from, to OrderStatus) bool {
	n, ok := from.Next()
	return ok && n == to
}

// CustomerInfo is the contact/shipping block captured at checkout.
type CustomerInfo struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// OrderItem is a frozen copy of a cart line.
type OrderItem struct {
	ProductRef    string
	ProductName   string
	UnitPrice     int64
	Quantity      int
	Customization string
}

// Order is created transactionally from the cart.
type Order struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Items          []OrderItem
	TotalAmount    int64
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	TrackingNumber string
	Customer       CustomerInfo
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
