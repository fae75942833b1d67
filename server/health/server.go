// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/fluxgroup/consumer"
)

// Config holds health check server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Group is the view of the consumer group the server reports on.
type Group interface {
	Status() []consumer.Status
}

// Registry lists the consumers registered in the shared backend, including
// those of other processes.
type Registry interface {
	Members(ctx context.Context) ([]string, error)
}

// Server provides health check endpoints for monitoring and orchestration.
type Server struct {
	config   Config
	group    Group
	registry Registry
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// New creates a new health check server. registry may be nil.
func New(cfg Config, g Group, registry Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		group:    g,
		registry: registry,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/group/status", s.handleGroupStatus)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Addr returns the listener's network address.
// Returns an empty string if the server hasn't started listening yet.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen starts the health check server.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("Starting health check server", "address", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Health check server shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health check server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Health check server stopped")
		return nil
	}
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth implements liveness probe.
// Returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status: "healthy",
	})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// handleReady implements readiness probe.
// Returns 200 OK if at least one consumer is running and registered.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if s.group == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ReadyResponse{
			Status:  "not_ready",
			Details: "group not initialized",
		})
		return
	}

	for _, st := range s.group.Status() {
		if st.Running && st.Active {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(ReadyResponse{
				Status: "ready",
			})
			return
		}
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status:  "not_ready",
		Details: "no active consumers",
	})
}

// GroupStatusResponse represents consumer group health information.
type GroupStatusResponse struct {
	Consumers  []consumer.Status `json:"consumers"`
	Running    int               `json:"running"`
	Registered []string          `json:"registered,omitempty"`
	Details    string            `json:"details,omitempty"`
}

// handleGroupStatus returns the local consumers and the group membership.
func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	response := GroupStatusResponse{
		Consumers: []consumer.Status{},
	}
	if s.group != nil {
		response.Consumers = s.group.Status()
		for _, st := range response.Consumers {
			if st.Running {
				response.Running++
			}
		}
	}

	if s.registry != nil {
		members, err := s.registry.Members(r.Context())
		if err != nil {
			response.Details = "membership unavailable: " + err.Error()
		} else {
			response.Registered = members
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
