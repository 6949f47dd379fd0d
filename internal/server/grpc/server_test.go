package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/petmem/internal/events"
)

const bufSize = 1 << 20

func startServer(t *testing.T, opts Options) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv := New(opts, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, ctx context.Context, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_HealthTracksEvents(t *testing.T) {
	srv, client := startServer(t, Options{})
	bus := events.NewBus()
	stop := TrackHealth(srv.Health(), bus, false)
	defer stop()
	ctx := context.Background()

	if got := check(t, client, ctx, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall=%v", got)
	}
	if got := check(t, client, ctx, ServiceSession); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("session before sign-in=%v", got)
	}

	bus.Publish(events.Event{Kind: events.SignedIn})
	bus.Publish(events.Event{Kind: events.SyncCompleted, Failed: []string{"letters"}})
	if got := check(t, client, ctx, ServiceSession); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("session=%v", got)
	}
	if got := check(t, client, ctx, ServiceSync); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("sync after failed pass=%v", got)
	}

	bus.Publish(events.Event{Kind: events.SyncCompleted})
	if got := check(t, client, ctx, ServiceSync); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("sync after clean pass=%v", got)
	}

	bus.Publish(events.Event{Kind: events.SignedOut})
	if got := check(t, client, ctx, ServiceSession); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("session after sign-out=%v", got)
	}
}

func TestServer_RequiresToken(t *testing.T) {
	_, client := startServer(t, Options{Token: "s3cret"})

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer s3cret")
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check with token: %v", err)
	}
}
