// Package api exposes the operator HTTP endpoints: health, status, and
// manual override. The hag CLI subcommands talk to a running daemon
// through this server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/hvac/controller"
	"github.com/jluzny/hag-go/internal/hvac/machine"
)

// Server provides the HTTP operator API for the HVAC daemon.
type Server struct {
	ctrl   *controller.Controller
	logger *zap.Logger
	server *http.Server
}

// NewServer creates an API server bound to the given port.
func NewServer(ctrl *controller.Controller, logger *zap.Logger, port int) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/override", s.handleOverride)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// handleStatus returns the controller snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.ctrl.Status()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to encode status response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Status request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// OverrideRequest is the JSON body of a manual override request.
type OverrideRequest struct {
	Mode            string   `json:"mode"`
	Temperature     *float64 `json:"temperature,omitempty"`
	DurationSeconds int      `json:"durationSeconds,omitempty"`
}

// handleOverride forces a manual mode on the state machine.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	mode, err := machine.ParseOverrideMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := s.ctrl.Override(mode, req.Temperature, duration); err != nil {
		s.logger.Error("Override request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.logger.Info("Manual override applied",
		zap.String("mode", req.Mode),
		zap.Int("duration_seconds", req.DurationSeconds),
		zap.String("remote_addr", r.RemoteAddr))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
		"mode":   req.Mode,
	})
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
