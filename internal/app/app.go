// Package app wires the client core together from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/actor"
	"github.com/and161185/petmem/internal/api"
	"github.com/and161185/petmem/internal/config"
	"github.com/and161185/petmem/internal/credstore"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/limiter"
	"github.com/and161185/petmem/internal/metrics"
	"github.com/and161185/petmem/internal/reconcile"
	"github.com/and161185/petmem/internal/repository"
	"github.com/and161185/petmem/internal/repository/postgres"
	"github.com/and161185/petmem/internal/repository/sqlite"
	"github.com/and161185/petmem/internal/service"
	"github.com/and161185/petmem/internal/session"
	"github.com/and161185/petmem/internal/transport"
	"github.com/and161185/petmem/internal/validate"
)

const userAgent = "petmem-core/1.0"

// App holds the long-lived components of one client process.
type App struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Bus     *events.Bus
	Store   repository.Store
	Session *session.Manager
	Sync    *reconcile.Engine
	Cart    *service.CartService
	Orders  *service.OrderSimulator

	loop *actor.Loop
	http *transport.Client
}

// New opens the local store and credential keyring and builds every service.
// The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	policy, err := validate.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	var tunnel transport.TunnelDetector = transport.StaticTunnel(false)
	if cfg.DetectTunnel {
		tunnel = transport.NewInterfaceDetector(30 * time.Second)
	}
	hc := transport.New(transport.Config{
		Policy:    transport.DefaultPolicy().WithTimeouts(cfg.TierTimeouts...),
		APIKey:    cfg.APIKey,
		UserAgent: userAgent,
		Tunnel:    tunnel,
	}, log.Named("http"), m)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	creds, err := credstore.Open(cfg.CredDir(), []byte(cfg.CredPassphrase), log.Named("credstore"))
	if err != nil {
		return nil, err
	}

	loop := actor.New(log.Named("loop"))
	bus := events.NewBus()
	table := api.NewTable(cfg.BackendURL, hc)

	sess := session.NewManager(session.Deps{
		Primary:   api.NewGateway("primary", cfg.GatewayURL, hc),
		Alternate: api.NewGateway("alternate", cfg.AlternateURL, hc),
		Direct:    api.NewDirect(cfg.BackendURL, hc),
		Profiles:  table,
		Creds:     creds,
		Wiper:     store,
		Loop:      loop,
		Bus:       bus,
		Policy:    policy,
		Throttle:  limiter.NewThrottle(cfg.AutoLoginInterval),
		Log:       log.Named("session"),
		Metrics:   m,
	})

	var mirror service.OrderMirror
	if cfg.MirrorOrders {
		mirror = table
	}
	sim, err := service.NewOrderSimulator(store, mirror, loop, bus, cfg.TrackingNode, cfg.OrderStepDelay, log.Named("orders"))
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: m,
		Bus:     bus,
		Store:   store,
		Session: sess,
		Sync:    reconcile.New(store, api.NewCollections(cfg.GatewayURL, hc), sess, loop, bus, log.Named("sync"), m),
		Cart: service.NewCartService(service.CartDeps{
			Store:        store,
			Sessions:     sess,
			Loop:         loop,
			Bus:          bus,
			Simulator:    sim,
			Policy:       policy,
			RecheckDelay: cfg.CartRecheckDelay,
			Log:          log.Named("cart"),
			Metrics:      m,
		}),
		Orders: sim,
		loop:   loop,
		http:   hc,
	}
	loop.Start()
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("data dir: %w", err)
		}
		return sqlite.Open(ctx, cfg.SQLitePath())
	}
}

// Restore resumes a stored session. A failed restore leaves the client
// logged out and is only logged; cancellation is returned.
func (a *App) Restore(ctx context.Context) error {
	err := a.Session.AutoLogin(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errs.ErrThrottled):
		a.Log.Debug("auto login skipped")
	default:
		a.Log.Warn("session not restored", zap.Error(err))
	}
	return nil
}

// SyncNow reconciles the signed-in user's entities.
func (a *App) SyncNow(ctx context.Context) (reconcile.Report, error) {
	s, _, ok := a.Session.Current()
	if !ok {
		return reconcile.Report{}, errs.ErrNotLoggedIn
	}
	return a.Sync.SyncAll(ctx, s.UserID)
}

// Close stops background work and releases the store.
func (a *App) Close() error {
	a.Orders.Stop()
	a.loop.Stop()
	a.http.CloseIdleConnections()
	return a.Store.Close()
}
