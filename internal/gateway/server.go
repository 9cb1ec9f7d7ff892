// Package gateway assembles the tandem server: the realtime WebSocket
// gateway, the REST API, metrics and health endpoints, and the optional gRPC
// health service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/haasonsaas/tandem/internal/auth"
	"github.com/haasonsaas/tandem/internal/config"
	"github.com/haasonsaas/tandem/internal/httpapi"
	"github.com/haasonsaas/tandem/internal/observability"
	"github.com/haasonsaas/tandem/internal/realtime"
	"github.com/haasonsaas/tandem/internal/store"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "tandem"

// Deps are the collaborators a Server is built from. Store is required; the
// rest default to in-process implementations.
type Deps struct {
	Store    store.Store
	Versions realtime.VersionStore
	Registry *prometheus.Registry
	Tracer   *observability.Tracer
}

// Server is the tandem server.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	store    store.Store
	auth     *auth.Service
	registry *prometheus.Registry
	metrics  *observability.Metrics
	realtime *realtime.Gateway
	api      *httpapi.API

	grpc   *grpc.Server
	health *health.Server

	mu           sync.Mutex
	httpServer   *httpServer
	grpcListener net.Listener
}

// NewServer wires a server from configuration.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config is required")
	}
	if deps.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NoopTracer()
	}

	authService := auth.NewService(cfg.Auth.ServiceConfig())
	if !authService.Enabled() {
		logger.Warn("auth is not configured; realtime handshakes will be rejected")
	}
	metrics := observability.NewMetrics(deps.Registry)

	rt, err := realtime.NewGateway(realtime.Options{
		Auth:            authService,
		Users:           deps.Store,
		Versions:        deps.Versions,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          deps.Tracer,
		MaxPayloadBytes: cfg.Realtime.MaxPayloadBytes,
		SendBuffer:      cfg.Realtime.SendBuffer,
		PingInterval:    cfg.Realtime.PingInterval,
		PongWait:        cfg.Realtime.PongWait,
		WriteWait:       cfg.Realtime.WriteWait,
		AllowedOrigins:  cfg.Realtime.AllowedOrigins,
		EditingTTL:      cfg.Realtime.EditingExpiry(),
		SweepSchedule:   cfg.Realtime.SweepSchedule,
		EventRate:       cfg.Realtime.EventRate,
		EventBurst:      cfg.Realtime.EventBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime gateway: %w", err)
	}

	api, err := httpapi.New(httpapi.Config{
		Store:   deps.Store,
		Auth:    authService,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("http api: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
		grpc.ChainStreamInterceptor(streamLoggingInterceptor(logger)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	return &Server{
		config:   cfg,
		logger:   logger,
		store:    deps.Store,
		auth:     authService,
		registry: deps.Registry,
		metrics:  metrics,
		realtime: rt,
		api:      api,
		grpc:     grpcServer,
		health:   healthServer,
	}, nil
}

// Realtime exposes the WebSocket gateway.
func (s *Server) Realtime() *realtime.Gateway { return s.realtime }

// Auth exposes the token service.
func (s *Server) Auth() *auth.Service { return s.auth }

// Start begins serving HTTP and, when a port is configured, gRPC health. It
// returns once the listeners are bound.
func (s *Server) Start(ctx context.Context) error {
	if err := s.startHTTPServer(ctx); err != nil {
		return err
	}
	if err := s.startGRPCServer(); err != nil {
		s.stopHTTPServer(ctx)
		return err
	}
	return nil
}

func (s *Server) startGRPCServer() error {
	if s.config.Server.GRPCPort == 0 {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.mu.Lock()
	s.grpcListener = lis
	s.mu.Unlock()

	go func() {
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server error", "error", err)
		}
	}()
	s.logger.Info("starting grpc health server", "addr", lis.Addr().String())
	return nil
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Stop drains HTTP, closes every realtime connection and stops gRPC.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	s.health.Shutdown()
	s.realtime.Close()
	s.stopHTTPServer(ctx)

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
	return nil
}
