package system

import (
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SessionService is the gRPC health service name tracking the adapter session.
const SessionService = "obd.Session"

// healthReporter mirrors the session state into the gRPC health server.
type healthReporter struct {
	server *health.Server
}

func newHealthReporter(server *health.Server) *healthReporter {
	r := &healthReporter{server: server}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

func (r *healthReporter) StateChanged(_, to scheduler.State) {
	if to == scheduler.StateConnected {
		r.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (r *healthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(SessionService, status)
}
