package server

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service health checks can ask about.
const ServiceName = "presence.Presence"

// HealthServer serves grpc.health.v1.Health for the presence server.
// It runs as a supervised worker: SERVING while Run is up, NOT_SERVING once it stops.
type HealthServer struct {
	log    *slog.Logger
	listen func() (net.Listener, error)
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger, address string) *HealthServer {
	server := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(server, h)
	return &HealthServer{
		log:    log.With("server", "grpc-health"),
		listen: func() (net.Listener, error) { return net.Listen("tcp", address) },
		server: server,
		health: h,
	}
}

// WithListener replaces the TCP listener, tests plug a bufconn listener here.
func (s *HealthServer) WithListener(listen func() (net.Listener, error)) *HealthServer {
	s.listen = listen
	return s
}

func (s *HealthServer) Run(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}

	s.health.Resume()
	s.setStatus(healthpb.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		errChan <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		s.log.Info("gRPC health server stopped")
		return nil
	case err := <-errChan:
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
}

func (s *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
