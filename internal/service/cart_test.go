package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/petmem/internal/actor"
	"github.com/and161185/petmem/internal/api"
	"github.com/and161185/petmem/internal/credstore"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository/sqlite"
	"github.com/and161185/petmem/internal/session"
	"github.com/and161185/petmem/internal/validate"
)

type stubGateway struct{}

func (stubGateway) Name() string     { return "stub" }
func (stubGateway) Configured() bool { return true }
func (stubGateway) Login(_ context.Context, email, _ string) (*api.AuthResult, error) {
	return &api.AuthResult{AccessToken: "tok", UserID: uuid.NewV5(uuid.NamespaceURL, email), Email: email}, nil
}
func (stubGateway) Register(context.Context, string, string, string) (*api.AuthResult, error) {
	return nil, errors.New("not used")
}
func (stubGateway) Validate(context.Context, string) (*api.AuthResult, error) {
	return nil, errors.New("not used")
}
func (stubGateway) ResetPassword(context.Context, string) error { return nil }
func (stubGateway) Logout(context.Context, string) error        { return nil }

// faultyStore fails selected writes of the real store.
type faultyStore struct {
	*sqlite.DB
	insertErr error
	updateErr error
	createErr error
}

func (f *faultyStore) InsertCartItem(ctx context.Context, c model.CartItem) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.DB.InsertCartItem(ctx, c)
}

func (f *faultyStore) UpdateCartQuantity(ctx context.Context, userID, itemID uuid.UUID, q int) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.DB.UpdateCartQuantity(ctx, userID, itemID, q)
}

func (f *faultyStore) CreateOrderFromCart(ctx context.Context, o *model.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.DB.CreateOrderFromCart(ctx, o)
}

type recorder struct {
	mu sync.Mutex
	ev []events.Event
}

func (r *recorder) add(e events.Event) {
	r.mu.Lock()
	r.ev = append(r.ev, e)
	r.mu.Unlock()
}

func (r *recorder) statuses(orderID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.ev {
		if e.Kind == events.OrderUpdated && e.OrderID == orderID {
			out = append(out, e.Status)
		}
	}
	return out
}

type env struct {
	store *faultyStore
	sess  *session.Manager
	loop  *actor.Loop
	bus   *events.Bus
	rec   *recorder
	cart  *CartService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "petmem.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	loop := actor.New(zaptest.NewLogger(t))
	loop.Start()
	t.Cleanup(loop.Stop)

	e := &env{store: &faultyStore{DB: db}, loop: loop, bus: events.NewBus(), rec: &recorder{}}
	e.bus.Subscribe(e.rec.add, events.CartChanged, events.OrderUpdated)
	e.sess = session.NewManager(session.Deps{
		Primary: stubGateway{},
		Creds:   credstore.NewMemory(),
		Wiper:   db,
		Loop:    loop,
		Bus:     e.bus,
		Policy:  validate.DefaultPolicy(),
		Log:     zaptest.NewLogger(t),
	})
	e.cart = NewCartService(CartDeps{
		Store:        e.store,
		Sessions:     e.sess,
		Loop:         loop,
		Bus:          e.bus,
		Policy:       validate.DefaultPolicy(),
		RecheckDelay: time.Millisecond,
		Log:          zaptest.NewLogger(t),
	})
	return e
}

func (e *env) signIn(t *testing.T, email string) uuid.UUID {
	t.Helper()
	s, err := e.sess.SignIn(context.Background(), email, "secret1", false)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return s.UserID
}

var (
	urn    = model.Product{Ref: "urn-oak", Name: "Oak urn", UnitPrice: 12900}
	candle = model.Product{Ref: "candle", Name: "Memorial candle", UnitPrice: 1500}
	frame  = model.Product{Ref: "frame", Name: "Photo frame", UnitPrice: 3000}
)

var customer = model.CustomerInfo{Name: "Ann Lee", Email: "ann@real-domain.com", Address: "1 Elm St"}

func TestAddToCart_MergesSameProduct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	for i := 0; i < 2; i++ {
		if err := e.cart.AddToCart(ctx, urn, 1, ""); err != nil {
			t.Fatalf("AddToCart #%d: %v", i+1, err)
		}
	}
	items, err := e.cart.Cart(ctx)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("want one line with quantity 2, got %+v", items)
	}
}

func TestAddToCart_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	if err := e.cart.AddToCart(ctx, urn, 1, ""); !errors.Is(err, errs.ErrNotLoggedIn) {
		t.Fatalf("want ErrNotLoggedIn, got %v", err)
	}
	e.signIn(t, "ann@real-domain.com")
	if err := e.cart.AddToCart(ctx, urn, 0, ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for zero quantity, got %v", err)
	}
	if err := e.cart.AddToCart(ctx, model.Product{}, 1, ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for empty product, got %v", err)
	}
}

func TestAddToCart_RollsBackSnapshotOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	if err := e.cart.AddToCart(ctx, urn, 1, ""); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}

	e.store.updateErr = errors.New("disk full")
	if err := e.cart.AddToCart(ctx, urn, 3, ""); err == nil {
		t.Fatalf("want error")
	}
	e.store.insertErr = errors.New("disk full")
	if err := e.cart.AddToCart(ctx, candle, 1, ""); err == nil {
		t.Fatalf("want error")
	}

	cached := e.cart.Items()
	if len(cached) != 1 || cached[0].Quantity != 1 {
		t.Fatalf("cached cart not restored: %+v", cached)
	}
}

func TestUpdateQuantityAndRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	_ = e.cart.AddToCart(ctx, urn, 1, "")
	_ = e.cart.AddToCart(ctx, candle, 1, "")
	items, _ := e.cart.Cart(ctx)

	if err := e.cart.UpdateQuantity(ctx, items[0].ID, 5); err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if err := e.cart.UpdateQuantity(ctx, items[1].ID, 0); err != nil {
		t.Fatalf("UpdateQuantity to 0: %v", err)
	}
	if err := e.cart.RemoveItem(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	items, _ = e.cart.Cart(ctx)
	if len(items) != 1 || items[0].ProductRef != urn.Ref || items[0].Quantity != 5 {
		t.Fatalf("cart=%+v", items)
	}
}

func TestCart_IsolatedPerUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	e.signIn(t, "ann@real-domain.com")
	_ = e.cart.AddToCart(ctx, urn, 1, "")

	e.signIn(t, "bob@real-domain.com")
	if got := e.cart.Items(); len(got) != 0 {
		t.Fatalf("cached cart of another user leaked: %+v", got)
	}
	items, err := e.cart.Cart(ctx)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("bob sees %d items", len(items))
	}
}

func TestCheckout_CreatesOneOrderAndEmptiesCart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	_ = e.cart.AddToCart(ctx, urn, 1, "engraved: Max")
	_ = e.cart.AddToCart(ctx, candle, 2, "")
	_ = e.cart.AddToCart(ctx, frame, 1, "")

	o, err := e.cart.Checkout(ctx, customer)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(o.Items) != 3 {
		t.Fatalf("order items=%d, want 3", len(o.Items))
	}
	if want := int64(12900 + 2*1500 + 3000); o.TotalAmount != want {
		t.Fatalf("total=%d, want %d", o.TotalAmount, want)
	}
	if o.Status != model.OrderPending || o.PaymentStatus != model.PaymentPending {
		t.Fatalf("status=%s/%s", o.Status, o.PaymentStatus)
	}

	items, _ := e.cart.Cart(ctx)
	if len(items) != 0 {
		t.Fatalf("cart not emptied: %d items", len(items))
	}
	orders, err := e.cart.Orders(ctx)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders=%d err=%v", len(orders), err)
	}
	got, err := e.cart.Order(ctx, o.ID)
	if err != nil || len(got.Items) != 3 || got.Items[0].Customization != "engraved: Max" {
		t.Fatalf("Order: %+v %v", got, err)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	rechecks := 0
	e.cart.sleep = func(context.Context, time.Duration) error {
		rechecks++
		return nil
	}

	_, err := e.cart.Checkout(ctx, customer)
	var ce *CheckoutError
	if !errors.As(err, &ce) || !errors.Is(err, errs.ErrEmptyCart) {
		t.Fatalf("want CheckoutError wrapping ErrEmptyCart, got %v", err)
	}
	if rechecks != 1 {
		t.Fatalf("rechecks=%d, want 1", rechecks)
	}
	orders, _ := e.cart.Orders(ctx)
	if len(orders) != 0 {
		t.Fatalf("no order expected, got %d", len(orders))
	}
}

func TestCheckout_RecheckSeesLateItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	e.cart.sleep = func(ctx context.Context, _ time.Duration) error {
		return e.cart.AddToCart(ctx, candle, 1, "")
	}
	o, err := e.cart.Checkout(ctx, customer)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(o.Items) != 1 {
		t.Fatalf("items=%d", len(o.Items))
	}
}

func TestCheckout_FailureLeavesCartUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")

	_ = e.cart.AddToCart(ctx, urn, 1, "")
	_ = e.cart.AddToCart(ctx, candle, 1, "")
	e.store.createErr = errors.New("constraint failed")

	_, err := e.cart.Checkout(ctx, customer)
	var ce *CheckoutError
	if !errors.As(err, &ce) || ce.Op != "place order" {
		t.Fatalf("want CheckoutError from place order, got %v", err)
	}
	items, _ := e.cart.Cart(ctx)
	if len(items) != 2 {
		t.Fatalf("cart=%d items, want 2", len(items))
	}
}

func TestCheckout_ValidatesCustomer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.signIn(t, "ann@real-domain.com")
	_ = e.cart.AddToCart(ctx, urn, 1, "")

	bad := customer
	bad.Email = "ann@"
	if _, err := e.cart.Checkout(ctx, bad); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	bad = customer
	bad.Address = " "
	if _, err := e.cart.Checkout(ctx, bad); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}
