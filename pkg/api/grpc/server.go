// Package grpcapi serves the standard gRPC health service for the driver and
// for each running effect instance.
package grpcapi

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/lemonberrylabs/particlefx/pkg/runtime"
)

// InstanceServicePrefix prefixes the health service name of an instance.
const InstanceServicePrefix = "particlefx.instance/"

// InstanceService returns the health service name for an instance ID.
func InstanceService(id string) string {
	return InstanceServicePrefix + id
}

// Server reports driver and instance health over grpc.health.v1. It
// implements runtime.Listener.
//
// Ended instances stay registered as NOT_SERVING so watchers observe the
// transition, and a late start notification never revives them.
type Server struct {
	health *health.Server
	grpc   *grpc.Server

	mu    sync.Mutex
	ended map[string]bool
}

var _ runtime.Listener = (*Server)(nil)

// New creates a server whose overall status is SERVING.
func New() *Server {
	srv := &Server{health: health.NewServer(), ended: make(map[string]bool)}

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, srv.health)
	reflection.Register(gs)
	srv.grpc = gs

	srv.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeListener(lis)
}

// ServeListener serves gRPC requests on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop marks every service NOT_SERVING and stops the server.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) InstanceStarted(inst runtime.InstanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended[inst.ID] {
		return
	}
	s.health.SetServingStatus(InstanceService(inst.ID), healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) InstanceDisabled(inst runtime.InstanceSnapshot, _ error) {
	s.instanceEnded(inst.ID)
}

func (s *Server) InstanceFinished(inst runtime.InstanceSnapshot) {
	s.instanceEnded(inst.ID)
}

func (s *Server) instanceEnded(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended[id] = true
	s.health.SetServingStatus(InstanceService(id), healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) Ticked(runtime.TickStats) {}
