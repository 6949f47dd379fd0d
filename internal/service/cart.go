// Package service contains the local mutation store: cart edits, checkout
// and the order status simulation that follows it.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/actor"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/metrics"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
	"github.com/and161185/petmem/internal/session"
	"github.com/and161185/petmem/internal/validate"
)

// Store is the part of the local store the cart needs.
type Store interface {
	repository.CartRepository
	repository.OrderRepository
}

// Sessions exposes the current session (*session.Manager).
type Sessions interface {
	Current() (*model.Session, session.Lease, bool)
}

// DefaultEmptyCartRecheckDelay is how long checkout waits before reloading an empty cart once more.
const DefaultEmptyCartRecheckDelay = 500 * time.Millisecond

// CartDeps are the collaborators of a CartService. Simulator is optional.
type CartDeps struct {
	Store     Store
	Sessions  Sessions
	Loop      *actor.Loop
	Bus       *events.Bus
	Simulator *OrderSimulator
	Policy    validate.Policy
	// RecheckDelay overrides DefaultEmptyCartRecheckDelay when > 0.
	RecheckDelay time.Duration
	Log          *zap.Logger
	Metrics      *metrics.Metrics
}

// CartService mutates the signed-in user's cart and turns it into orders.
// Every mutation runs on the owner loop.
type CartService struct {
	store  Store
	sess   Sessions
	loop   *actor.Loop
	bus    *events.Bus
	sim    *OrderSimulator
	policy validate.Policy
	delay  time.Duration
	log    *zap.Logger
	m      *metrics.Metrics
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	owner uuid.UUID
	items []model.CartItem
}

// NewCartService constructs a CartService.
func NewCartService(d CartDeps) *CartService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.RecheckDelay <= 0 {
		d.RecheckDelay = DefaultEmptyCartRecheckDelay
	}
	return &CartService{
		store:  d.Store,
		sess:   d.Sessions,
		loop:   d.Loop,
		bus:    d.Bus,
		sim:    d.Simulator,
		policy: d.Policy,
		delay:  d.RecheckDelay,
		log:    d.Log,
		m:      d.Metrics,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CartService) lease() (session.Lease, error) {
	_, l, ok := s.sess.Current()
	if !ok {
		return l, errs.ErrNotLoggedIn
	}
	return l, nil
}

// Items returns the last loaded cart without touching the store. It is
// empty when the cache belongs to another user than the current session.
func (s *CartService) Items() []model.CartItem {
	cur, _, ok := s.sess.Current()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok || cur.UserID != s.owner {
		return nil
	}
	return append([]model.CartItem(nil), s.items...)
}

// setView replaces the cached cart. Runs on the loop.
func (s *CartService) setView(owner uuid.UUID, items []model.CartItem) {
	s.mu.Lock()
	s.owner, s.items = owner, items
	s.mu.Unlock()
}

// reload reads the cart of the lease owner into the cache. Runs on the loop.
func (s *CartService) reload(ctx context.Context, l session.Lease) ([]model.CartItem, error) {
	if _, err := l.Token(); err != nil {
		return nil, err
	}
	items, err := s.store.ListCart(ctx, l.UserID())
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	s.setView(l.UserID(), items)
	return append([]model.CartItem(nil), items...), nil
}

// Cart reloads and returns the user's cart.
func (s *CartService) Cart(ctx context.Context) ([]model.CartItem, error) {
	l, err := s.lease()
	if err != nil {
		return nil, err
	}
	var out []model.CartItem
	err = s.loop.Do(ctx, func(ctx context.Context) error {
		items, err := s.reload(ctx, l)
		out = items
		return err
	})
	return out, err
}

// AddToCart adds quantity of p. A product already in the cart has its
// quantity increased instead of getting a second line. When the write
// fails the cached cart is restored.
func (s *CartService) AddToCart(ctx context.Context, p model.Product, quantity int, customization string) error {
	if strings.TrimSpace(p.Ref) == "" {
		return errs.Invalid("product", "Choose a product.")
	}
	if quantity <= 0 {
		return errs.Invalid("quantity", "Quantity must be at least 1.")
	}
	if p.UnitPrice < 0 {
		return errs.Invalid("price", "Price can't be negative.")
	}
	l, err := s.lease()
	if err != nil {
		return err
	}

	err = s.loop.Do(ctx, func(ctx context.Context) error {
		items, err := s.reload(ctx, l)
		if err != nil {
			return err
		}
		snapshot := append([]model.CartItem(nil), items...)

		idx := -1
		for i := range items {
			if items[i].ProductRef == p.Ref {
				idx = i
				break
			}
		}
		if idx >= 0 {
			items[idx].Quantity += quantity
			err = s.store.UpdateCartQuantity(ctx, l.UserID(), items[idx].ID, items[idx].Quantity)
		} else {
			item := model.CartItem{
				ID:            uuid.Must(uuid.NewV4()),
				UserID:        l.UserID(),
				ProductRef:    p.Ref,
				ProductName:   p.Name,
				UnitPrice:     p.UnitPrice,
				Quantity:      quantity,
				Customization: customization,
				AddedAt:       s.now().UTC(),
			}
			items = append(items, item)
			err = s.store.InsertCartItem(ctx, item)
		}
		if err != nil {
			s.setView(l.UserID(), snapshot)
			return fmt.Errorf("add to cart: %w", err)
		}
		s.setView(l.UserID(), items)
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.Publish(events.Event{Kind: events.CartChanged, UserID: l.UserID()})
	return nil
}

// UpdateQuantity sets the quantity of a line; quantity <= 0 removes it.
func (s *CartService) UpdateQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, itemID)
	}
	return s.mutate(ctx, func(ctx context.Context, owner uuid.UUID, items []model.CartItem) ([]model.CartItem, error) {
		for i := range items {
			if items[i].ID == itemID {
				items[i].Quantity = quantity
				return items, s.store.UpdateCartQuantity(ctx, owner, itemID, quantity)
			}
		}
		return nil, errs.ErrNotFound
	})
}

// RemoveItem deletes a line.
func (s *CartService) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	return s.mutate(ctx, func(ctx context.Context, owner uuid.UUID, items []model.CartItem) ([]model.CartItem, error) {
		for i := range items {
			if items[i].ID == itemID {
				rest := append(append([]model.CartItem(nil), items[:i]...), items[i+1:]...)
				return rest, s.store.RemoveCartItem(ctx, owner, itemID)
			}
		}
		return nil, errs.ErrNotFound
	})
}

type cartEdit func(ctx context.Context, owner uuid.UUID, items []model.CartItem) ([]model.CartItem, error)

func (s *CartService) mutate(ctx context.Context, edit cartEdit) error {
	l, err := s.lease()
	if err != nil {
		return err
	}
	err = s.loop.Do(ctx, func(ctx context.Context) error {
		items, err := s.reload(ctx, l)
		if err != nil {
			return err
		}
		snapshot := append([]model.CartItem(nil), items...)
		next, err := edit(ctx, l.UserID(), items)
		if err != nil {
			s.setView(l.UserID(), snapshot)
			return fmt.Errorf("update cart: %w", err)
		}
		s.setView(l.UserID(), next)
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.Publish(events.Event{Kind: events.CartChanged, UserID: l.UserID()})
	return nil
}
