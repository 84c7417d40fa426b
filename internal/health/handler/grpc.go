// Package handler serves liveness and readiness over gRPC (grpc.health.v1) and HTTP.
package handler

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the gRPC health service name answered besides the empty (overall) name.
const ServiceName = "registry-auth"

const checkTimeout = 2 * time.Second

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the policy engine (e.g. OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is a named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Server implements grpc.health.v1.Health and backs the HTTP readiness route.
type Server struct {
	healthpb.UnimplementedHealthServer
	checks []Check
}

// NewServer returns a health server. pinger and policyChecker may be nil to skip them; extra adds
// further dependencies such as Redis.
func NewServer(pinger Pinger, policyChecker PolicyChecker, extra ...Check) *Server {
	var checks []Check
	if pinger != nil {
		checks = append(checks, Check{Name: "database", Fn: pinger.PingContext})
	}
	if policyChecker != nil {
		checks = append(checks, Check{Name: "policy", Fn: policyChecker.HealthCheck})
	}
	for _, c := range extra {
		if c.Fn != nil {
			checks = append(checks, c)
		}
	}
	return &Server{checks: checks}
}

// Ready runs every check and returns the failures keyed by name. An empty map means ready.
func (s *Server) Ready(ctx context.Context) map[string]string {
	failures := make(map[string]string)
	for _, c := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Fn(checkCtx)
		cancel()
		if err != nil {
			failures[c.Name] = err.Error()
		}
	}
	return failures
}

// Check reports SERVING when every dependency is healthy. Dependency failures are NOT_SERVING, not RPC errors.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("unknown service %q", svc))
	}
	if len(s.Ready(ctx)) > 0 {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
