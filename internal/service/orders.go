package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/actor"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
	"github.com/and161185/petmem/internal/session"
)

// Orders returns the user's orders, newest first.
func (s *CartService) Orders(ctx context.Context) ([]model.Order, error) {
	l, err := s.lease()
	if err != nil {
		return nil, err
	}
	var out []model.Order
	err = s.loop.Do(ctx, func(ctx context.Context) error {
		if _, err := l.Token(); err != nil {
			return err
		}
		orders, err := s.store.ListOrders(ctx, l.UserID())
		out = orders
		return err
	})
	return out, err
}

// Order returns one of the user's orders.
func (s *CartService) Order(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	l, err := s.lease()
	if err != nil {
		return nil, err
	}
	var out *model.Order
	err = s.loop.Do(ctx, func(ctx context.Context) error {
		if _, err := l.Token(); err != nil {
			return err
		}
		o, err := s.store.GetOrder(ctx, l.UserID(), id)
		out = o
		return err
	})
	return out, err
}

// OrderMirror writes rows through the row-level table API (*api.Table).
type OrderMirror interface {
	Upsert(ctx context.Context, token, table, onConflict string, row map[string]any) ([]byte, error)
}

// DefaultOrderStepDelay is the pause between two simulated fulfilment steps.
const DefaultOrderStepDelay = 3 * time.Second

// OrderSimulator stands in for the fulfilment backend: it walks a placed
// order through every status, marks it paid once confirmed and assigns a
// tracking number when it ships. Each step is persisted locally and
// mirrored to the remote orders table when a mirror is configured.
type OrderSimulator struct {
	orders repository.OrderRepository
	mirror OrderMirror
	loop   *actor.Loop
	bus    *events.Bus
	node   *snowflake.Node
	step   time.Duration
	log    *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrderSimulator creates a simulator; node numbers the tracking IDs.
// step <= 0 uses DefaultOrderStepDelay. mirror may be nil.
func NewOrderSimulator(orders repository.OrderRepository, mirror OrderMirror, loop *actor.Loop, bus *events.Bus, node int64, step time.Duration, log *zap.Logger) (*OrderSimulator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("tracking node: %w", err)
	}
	if step <= 0 {
		step = DefaultOrderStepDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OrderSimulator{
		orders: orders,
		mirror: mirror,
		loop:   loop,
		bus:    bus,
		node:   n,
		step:   step,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start simulates fulfilment of o in the background. The run ends early
// when lease is superseded or the simulator stops.
func (s *OrderSimulator) Start(o model.Order, lease session.Lease) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(o, lease)
	}()
}

// Wait blocks until every started run has finished.
func (s *OrderSimulator) Wait() { s.wg.Wait() }

// Stop aborts running simulations and waits for them.
func (s *OrderSimulator) Stop() {
	s.cancel()
	s.wg.Wait()
}

// TrackingNumber returns a new unique tracking number.
func (s *OrderSimulator) TrackingNumber() string {
	return "PM" + strings.ToUpper(s.node.Generate().Base36())
}

func (s *OrderSimulator) run(o model.Order, lease session.Lease) {
	log := s.log.With(zap.String("order_id", o.ID.String()))
	s.publish(o, lease)

	for {
		next, ok := o.Status.Next()
		if !ok {
			log.Info("order simulation finished", zap.String("tracking", o.TrackingNumber))
			return
		}
		if err := sleepCtx(s.ctx, s.step); err != nil {
			return
		}
		if _, err := lease.Token(); err != nil {
			log.Debug("session changed, order simulation stopped", zap.Error(err))
			return
		}

		o.Status = next
		if next == model.OrderConfirmed {
			o.PaymentStatus = model.PaymentPaid
		}
		if next == model.OrderShipped && o.TrackingNumber == "" {
			o.TrackingNumber = s.TrackingNumber()
		}
		o.UpdatedAt = s.now().UTC()

		upd := o
		err := s.loop.Do(s.ctx, func(ctx context.Context) error {
			if _, err := lease.Token(); err != nil {
				return err
			}
			return s.orders.UpdateOrderStatus(ctx, &upd)
		})
		if err != nil {
			log.Warn("order status update failed", zap.String("status", string(next)), zap.Error(err))
			return
		}
		log.Info("order status advanced", zap.String("status", string(next)))
		s.publish(o, lease)
	}
}

// publish emits OrderUpdated and mirrors the order remotely, best effort.
func (s *OrderSimulator) publish(o model.Order, lease session.Lease) {
	s.bus.Publish(events.Event{Kind: events.OrderUpdated, UserID: o.UserID, OrderID: o.ID, Status: string(o.Status)})
	if s.mirror == nil {
		return
	}
	token, err := lease.Token()
	if err != nil {
		return
	}
	if _, err := s.mirror.Upsert(s.ctx, token, "orders", "id", orderRow(o)); err != nil {
		s.log.Warn("order mirror failed", zap.String("order_id", o.ID.String()), zap.Error(err))
	}
}

func orderRow(o model.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"product_ref":   it.ProductRef,
			"product_name":  it.ProductName,
			"unit_price":    it.UnitPrice,
			"quantity":      it.Quantity,
			"customization": it.Customization,
		})
	}
	row := map[string]any{
		"id":               o.ID,
		"user_id":          o.UserID,
		"items":            items,
		"total_amount":     o.TotalAmount,
		"status":           string(o.Status),
		"payment_status":   string(o.PaymentStatus),
		"customer_name":    o.Customer.Name,
		"customer_email":   o.Customer.Email,
		"customer_phone":   o.Customer.Phone,
		"shipping_address": o.Customer.Address,
		"created_at":       o.CreatedAt,
		"updated_at":       o.UpdatedAt,
	}
	if o.TrackingNumber != "" {
		row["tracking_number"] = o.TrackingNumber
	}
	return row
}
