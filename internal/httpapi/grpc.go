package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"finpulse.org/internal/obs"
)

// healthServer answers gRPC health checks against the readiness probe,
// mirroring what /readyz reports over HTTP.
type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	probe ReadyProbe
}

func (s *healthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// NewGRPCServer exposes the health service for fleet probes.
func NewGRPCServer(rp ReadyProbe) *grpc.Server {
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, &healthServer{probe: rp})
	return srv
}
