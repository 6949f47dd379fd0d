package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/petmem/internal/model"
)

type mirrorCall struct {
	token, table, onConflict string
	row                      map[string]any
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
}

func (m *fakeMirror) Upsert(_ context.Context, token, table, onConflict string, row map[string]any) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{token, table, onConflict, row})
	return nil, nil
}

func (m *fakeMirror) snapshot() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorCall(nil), m.calls...)
}

func withSimulator(t *testing.T, e *env, step time.Duration) (*OrderSimulator, *fakeMirror) {
	t.Helper()
	mirror := &fakeMirror{}
	sim, err := NewOrderSimulator(e.store, mirror, e.loop, e.bus, 7, step, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(sim.Stop)
	e.cart.sim = sim
	return sim, mirror
}

func TestOrderSimulator_RunsToDelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	sim, mirror := withSimulator(t, e, time.Millisecond)
	e.signIn(t, "ann@real-domain.com")

	require.NoError(t, e.cart.AddToCart(ctx, urn, 1, ""))
	o, err := e.cart.Checkout(ctx, customer)
	require.NoError(t, err)
	sim.Wait()

	got, err := e.cart.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderDelivered, got.Status)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)
	assert.True(t, strings.HasPrefix(got.TrackingNumber, "PM"), "tracking %q", got.TrackingNumber)

	want := []string{"pending", "confirmed", "processing", "shipped", "delivered"}
	// Checkout itself publishes the pending state before the simulator does.
	assert.Equal(t, append([]string{"pending"}, want...), e.rec.statuses(o.ID))

	calls := mirror.snapshot()
	require.Len(t, calls, len(want))
	for i, c := range calls {
		assert.Equal(t, "orders", c.table)
		assert.Equal(t, "id", c.onConflict)
		assert.Equal(t, "tok", c.token)
		assert.Equal(t, want[i], c.row["status"])
	}
	last := calls[len(calls)-1].row
	assert.Equal(t, got.TrackingNumber, last["tracking_number"])
	assert.Equal(t, "paid", last["payment_status"])
	_, hasTracking := calls[0].row["tracking_number"]
	assert.False(t, hasTracking)
}

func TestOrderSimulator_StopsWhenSessionEnds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	sim, mirror := withSimulator(t, e, 20*time.Millisecond)
	e.signIn(t, "ann@real-domain.com")

	require.NoError(t, e.cart.AddToCart(ctx, urn, 1, ""))
	o, err := e.cart.Checkout(ctx, customer)
	require.NoError(t, err)
	require.NoError(t, e.sess.SignOut(ctx))
	sim.Wait()

	for _, s := range e.rec.statuses(o.ID) {
		assert.NotEqual(t, "delivered", s)
	}
	assert.LessOrEqual(t, len(mirror.snapshot()), 1)
}

func TestOrderSimulator_TrackingNumbersUnique(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sim, _ := withSimulator(t, e, time.Millisecond)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n := sim.TrackingNumber()
		require.False(t, seen[n], "duplicate %s", n)
		require.Equal(t, strings.ToUpper(n), n)
		seen[n] = true
	}
}

func TestNewOrderSimulator_RejectsBadNode(t *testing.T) {
	t.Parallel()
	_, err := NewOrderSimulator(nil, nil, nil, nil, 1<<20, 0, nil)
	require.Error(t, err)
}
