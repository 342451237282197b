package event

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServiceName is the service name reported by the gRPC health server.
const GRPCServiceName = "pot_waterer.Waterer"

// GRPCHealth mirrors the probe into a standard grpc.health.v1 server.
type GRPCHealth struct {
	srv   *health.Server
	probe Probe
}

func NewGRPCHealth(p Probe) *GRPCHealth {
	g := &GRPCHealth{srv: health.NewServer(), probe: p}
	g.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

func (g *GRPCHealth) Server() *health.Server { return g.srv }

// Update ricalcola lo stato; degraded conta come SERVING, solo down no.
func (g *GRPCHealth) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if g.probe.Check().Status == "down" {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.set(status)
	return status
}

// Run aggiorna lo stato ogni `every` finché ctx non termina, poi chiude il server di health.
func (g *GRPCHealth) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		g.Update()
		select {
		case <-ctx.Done():
			g.srv.Shutdown()
			return
		case <-t.C:
		}
	}
}

func (g *GRPCHealth) set(s healthpb.HealthCheckResponse_ServingStatus) {
	g.srv.SetServingStatus("", s)
	g.srv.SetServingStatus(GRPCServiceName, s)
}
