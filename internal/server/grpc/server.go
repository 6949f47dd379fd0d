// Package grpcserver is the sync agent's gRPC endpoint: the standard health
// service reflecting session and sync state, behind logging, recovery and
// optional bearer-token interceptors.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configures a Server.
type Options struct {
	// Token, when set, is required as a bearer token on every call.
	Token string
	// Reflection registers server reflection (dev only).
	Reflection bool
	// StopTimeout bounds the graceful stop; zero means 5s.
	StopTimeout time.Duration
}

// Server wraps the grpc.Server and its health service.
type Server struct {
	srv  *grpc.Server
	hs   *health.Server
	log  *zap.Logger
	stop time.Duration
}

// New builds the server. sessions may be nil.
func New(opts Options, sessions Sessions, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			SessionUnary(sessions),
			LoggingUnary(log),
			TokenUnary(opts.Token),
		),
		grpc.ChainStreamInterceptor(
			RecoverStream(log),
			SessionStream(sessions),
			LoggingStream(log),
			TokenStream(opts.Token),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &Server{srv: s, hs: hs, log: log, stop: opts.StopTimeout}
}

// Health returns the health service for status updates.
func (s *Server) Health() *health.Server { return s.hs }

// Serve accepts connections on lis until ctx is done, then stops gracefully,
// forcing the stop after the configured timeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hs.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.stop):
		s.srv.Stop()
	}
	return nil
}
