package grpc

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix namespaces the per-dependency health service names.
const ServicePrefix = "scrape."

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Server is a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	checks map[string]Check
	logger *slog.Logger
}

// New creates a server with health reporting for checks. The overall
// service ("") is SERVING only while every check passes; each dependency is
// also reported as "scrape.<name>".
func New(checks map[string]Check, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		checks: checks,
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Refresh runs every check once and publishes the results.
func (s *Server) Refresh(ctx context.Context) bool {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		st := healthpb.HealthCheckResponse_SERVING
		if err := s.checks[name](ctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			healthy = false
			s.logger.Warn("health check failed", "dependency", name, "error", err)
		}
		s.health.SetServingStatus(ServicePrefix+name, st)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	return healthy
}

// Watch refreshes the health status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		s.Refresh(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// GracefulStop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
