package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/and161185/petmem/internal/app"
	"github.com/and161185/petmem/internal/config"
	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/events"
	"github.com/and161185/petmem/internal/logging"
	grpcserver "github.com/and161185/petmem/internal/server/grpc"
)

// options are the command-line settings of the agent.
type options struct {
	ConfigPath string
	Token      string
	Dev        bool
}

// listeners are bound before start so the chosen ports are known.
type listeners struct {
	GRPC    net.Listener
	Metrics net.Listener
}

func newAgent(opts options, extra ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		fx.Supply(opts),
		fx.Provide(
			loadConfig,
			newLogger,
			newApp,
			newListeners,
			newGRPCServer,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(runGRPC, runMetrics, runSync),
	}, extra...)...)
}

func loadConfig(opts options) (config.Config, error) {
	return config.Load(opts.ConfigPath)
}

func newLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() { _ = log.Sync() }))
	return log, nil
}

func newApp(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*app.App, error) {
	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(a.Close))
	return a, nil
}

func newListeners(cfg config.Config) (*listeners, error) {
	g, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, err
	}
	m, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = g.Close()
		return nil, err
	}
	return &listeners{GRPC: g, Metrics: m}, nil
}

func newGRPCServer(opts options, a *app.App, log *zap.Logger) *grpcserver.Server {
	return grpcserver.New(grpcserver.Options{Token: opts.Token, Reflection: opts.Dev}, a.Session, log.Named("grpc"))
}

func runGRPC(lc fx.Lifecycle, srv *grpcserver.Server, a *app.App, ls *listeners, log *zap.Logger) {
	_, _, signedIn := a.Session.Current()
	untrack := grpcserver.TrackHealth(srv.Health(), a.Bus, signedIn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := srv.Serve(ctx, ls.GRPC); err != nil {
					log.Error("grpc server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			untrack()
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func runMetrics(lc fx.Lifecycle, a *app.App, ls *listeners, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(a.Session.State().String()))
	})
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("metrics listening", zap.String("addr", ls.Metrics.Addr().String()))
				if err := hs.Serve(ls.Metrics); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return hs.Shutdown(ctx)
		},
	})
}

// runSync restores the stored session on start, then reconciles on every
// sign-in and every SyncInterval while signed in.
func runSync(lc fx.Lifecycle, a *app.App, cfg config.Config, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	kick := make(chan struct{}, 1)
	unsubscribe := a.Bus.Subscribe(func(events.Event) {
		select {
		case kick <- struct{}{}:
		default:
		}
	}, events.SignedIn)
	done := make(chan struct{})

	pass := func() {
		rep, err := a.SyncNow(ctx)
		switch {
		case errors.Is(err, errs.ErrNotLoggedIn):
			log.Debug("sync skipped, signed out")
		case err != nil:
			log.Warn("sync failed", zap.Error(err))
		case len(rep.Failed()) > 0:
			log.Warn("sync incomplete", zap.Strings("failed", rep.Failed()))
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := a.Restore(ctx); err != nil {
					return
				}
				every := cfg.SyncInterval
				if every <= 0 {
					every = 5 * time.Minute
				}
				t := time.NewTicker(every)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-kick:
						pass()
					case <-t.C:
						pass()
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			unsubscribe()
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
