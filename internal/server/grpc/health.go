package grpcserver

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/petmem/internal/events"
)

// Health service names reported by the agent.
const (
	ServiceSession = "petmem.session"
	ServiceSync    = "petmem.sync"
)

// TrackHealth keeps hs in step with the session and sync events on bus:
// the session service serves while a user is signed in; the sync service
// serves after a pass in which no entity kind failed. The overall ("")
// status is always SERVING. The returned func detaches from the bus.
func TrackHealth(hs *health.Server, bus *events.Bus, signedIn bool) (stop func()) {
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceSession, servingIf(signedIn))
	hs.SetServingStatus(ServiceSync, healthpb.HealthCheckResponse_UNKNOWN)

	return bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.SignedIn:
			hs.SetServingStatus(ServiceSession, healthpb.HealthCheckResponse_SERVING)
		case events.SignedOut:
			hs.SetServingStatus(ServiceSession, healthpb.HealthCheckResponse_NOT_SERVING)
			hs.SetServingStatus(ServiceSync, healthpb.HealthCheckResponse_UNKNOWN)
		case events.SyncCompleted:
			hs.SetServingStatus(ServiceSync, servingIf(len(e.Failed) == 0))
		}
	}, events.SignedIn, events.SignedOut, events.SyncCompleted)
}

func servingIf(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
