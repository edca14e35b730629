package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fingate.org/internal/obs"
)

// readinessChecker reports whether dependencies are reachable.
type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth publishes readiness over the standard gRPC health protocol,
// both for the server as a whole ("") and under serviceName.
type GRPCHealth struct {
	readiness readinessChecker
	server    *health.Server
}

// NewGRPCHealth creates a health service that starts NOT_SERVING until
// the first successful probe.
func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	h := &GRPCHealth{readiness: r, server: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *GRPCHealth) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Probe runs one readiness check and publishes the result.
func (h *GRPCHealth) Probe(ctx context.Context) error {
	err := h.readiness.Check(ctx)
	if err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run probes every interval until ctx is done, then marks the server as
// shutting down.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		if err := h.Probe(probeCtx); err != nil && ctx.Err() == nil {
			obs.Warn("grpc_health_not_ready", map[string]any{"error": err})
		}
		cancel()
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
