// Package health serves the grpc.health.v1 protocol for the email service.
package health

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/example/emailservice/internal/logger"
)

// Reporter answers liveness checks. The service has no dependency it could
// check cheaply, so every Check reports SERVING. Streaming Watch is not
// supported.
type Reporter struct {
	healthpb.UnimplementedHealthServer

	logger zerolog.Logger
}

var _ healthpb.HealthServer = (*Reporter)(nil)

// NewReporter constructs a Reporter.
func NewReporter(log zerolog.Logger) *Reporter {
	return &Reporter{logger: logger.OrNop(log)}
}

// Check reports SERVING for any service name.
func (r *Reporter) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	r.logger.Trace().Str("service", req.GetService()).Msg("health check")
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// Watch is not supported.
func (r *Reporter) Watch(_ *healthpb.HealthCheckRequest, _ healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "health watch is not implemented")
}
