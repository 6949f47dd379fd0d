package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/session"
)

// CheckoutError is returned by every failed checkout. The cart is left as it was.
type CheckoutError struct {
	Op  string
	Err error
}

func (e *CheckoutError) Error() string { return fmt.Sprintf("checkout: %s: %v", e.Op, e.Err) }

func (e *CheckoutError) Unwrap() error { return e.Err }

func (s *CartService) checkCustomer(c model.CustomerInfo) error {
	if strings.TrimSpace(c.Name) == "" {
		return errs.Invalid("name", "Enter the recipient's name.")
	}
	if err := s.policy.Email.CheckEmail(c.Email); err != nil {
		return err
	}
	if strings.TrimSpace(c.Address) == "" {
		return errs.Invalid("address", "Enter a shipping address.")
	}
	return nil
}

// Checkout turns the cart into one pending order and empties the cart in a
// single transaction. An empty cart is reloaded once more after a short
// delay before the checkout is refused with errs.ErrEmptyCart.
func (s *CartService) Checkout(ctx context.Context, customer model.CustomerInfo) (*model.Order, error) {
	if err := s.checkCustomer(customer); err != nil {
		s.m.Checkout("invalid")
		return nil, &CheckoutError{Op: "validate", Err: err}
	}
	l, err := s.lease()
	if err != nil {
		return nil, &CheckoutError{Op: "session", Err: err}
	}

	o, err := s.placeOrder(ctx, l, customer)
	if errors.Is(err, errs.ErrEmptyCart) {
		s.log.Debug("cart empty, rechecking", zap.Duration("delay", s.delay))
		if serr := s.sleep(ctx, s.delay); serr != nil {
			return nil, &CheckoutError{Op: "recheck", Err: serr}
		}
		o, err = s.placeOrder(ctx, l, customer)
	}
	switch {
	case errors.Is(err, errs.ErrEmptyCart):
		s.m.Checkout("empty")
		return nil, &CheckoutError{Op: "load cart", Err: err}
	case err != nil:
		s.m.Checkout("error")
		s.log.Error("checkout failed", zap.String("user_id", l.UserID().String()), zap.Error(err))
		return nil, &CheckoutError{Op: "place order", Err: err}
	}

	s.m.Checkout("ok")
	s.log.Info("order placed",
		zap.String("order_id", o.ID.String()),
		zap.Int("items", len(o.Items)),
		zap.Int64("total", o.TotalAmount),
	)
	s.bus.Publish(events.Event{Kind: events.CartChanged, UserID: o.UserID})
	s.bus.Publish(events.Event{Kind: events.OrderUpdated, UserID: o.UserID, OrderID: o.ID, Status: string(o.Status)})
	if s.sim != nil {
		s.sim.Start(*o, l)
	}
	return o, nil
}

// placeOrder reloads the cart and, when it is not empty, stores the order
// built from it. Runs the whole read-build-write on the loop.
func (s *CartService) placeOrder(ctx context.Context, l session.Lease, customer model.CustomerInfo) (*model.Order, error) {
	var out *model.Order
	err := s.loop.Do(ctx, func(ctx context.Context) error {
		items, err := s.reload(ctx, l)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errs.ErrEmptyCart
		}
		o := buildOrder(l.UserID(), items, customer, s.now().UTC())
		if err := s.store.CreateOrderFromCart(ctx, o); err != nil {
			return err
		}
		s.setView(l.UserID(), nil)
		out = o
		return nil
	})
	return out, err
}

func buildOrder(owner uuid.UUID, items []model.CartItem, customer model.CustomerInfo, now time.Time) *model.Order {
	o := &model.Order{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        owner,
		Items:         make([]model.OrderItem, 0, len(items)),
		Status:        model.OrderPending,
		PaymentStatus: model.PaymentPending,
		Customer:      customer,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, it := range items {
		o.Items = append(o.Items, model.OrderItem{
			ProductRef:    it.ProductRef,
			ProductName:   it.ProductName,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			Customization: it.Customization,
		})
		o.TotalAmount += it.Subtotal()
	}
	return o
}
