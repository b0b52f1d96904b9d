package httpapi

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthServer answers grpc.health.v1 checks from the same readiness probe
// as /readyz. The empty service name and serviceName are both recognised.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	probe ReadyProbe
	log   *zap.Logger
}

// NewHealthServer creates the gRPC health service.
func NewHealthServer(probe ReadyProbe, log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthServer{probe: probe, log: log}
}

// Check evaluates readiness. On failure returns gRPC Unavailable error.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", serviceName:
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}

	ctx, cancel := context.WithTimeout(ctx, readyProbeDeadline)
	defer cancel()
	if err := s.probe.Check(ctx); err != nil {
		s.log.Warn("grpc readiness check failed", zap.Error(err))
		return nil, status.Errorf(codes.Unavailable, "not ready: %v", err)
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
