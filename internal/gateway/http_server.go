package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type httpServer struct {
	server   *http.Server
	listener net.Listener
}

// Handler returns the HTTP route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle(s.config.Realtime.Path, s.realtime)
	mux.Handle("/api/", s.api.Handler())
	return mux
}

func (s *Server) startHTTPServer(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.mu.Lock()
	s.httpServer = &httpServer{server: server, listener: listener}
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String(), "realtime_path", s.config.Realtime.Path)
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.listener.Addr().String()
}

func (s *Server) stopHTTPServer(ctx context.Context) {
	s.mu.Lock()
	hs := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if hs == nil {
		return
	}
	if err := hs.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
}

// healthStatus is the /healthz body. Load balancers only read the status
// code; the counts help operators spot a node that stopped receiving clients.
type healthStatus struct {
	Status         string `json:"status"`
	Connections    int    `json:"connections"`
	OnlineUsers    int    `json:"online_users"`
	EditingClaims  int    `json:"editing_claims"`
	VersionBackend string `json:"version_backend"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	body := healthStatus{
		Status:         "ok",
		Connections:    s.realtime.ConnectionCount(),
		OnlineUsers:    s.realtime.Presence().Len(),
		EditingClaims:  s.realtime.Editing().Len(),
		VersionBackend: s.config.Realtime.VersionBackend,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck
}
