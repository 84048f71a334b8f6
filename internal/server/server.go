// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

// Package server exposes the agent's ops listener: liveness, readiness,
// a session status snapshot, and Prometheus metrics. It is not a public
// API surface; it binds to localhost by default.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lessonlab/viewpulse/internal/config"
	"github.com/lessonlab/viewpulse/internal/logging"
)

// ReadyFunc reports readiness. A nil error means ready to serve; the
// error message is surfaced in the readiness response.
type ReadyFunc func(ctx context.Context) error

// SessionStatus is the snapshot returned by the status endpoint.
type SessionStatus struct {
	State        string  `json:"state"`
	SessionID    string  `json:"session_id,omitempty"`
	VideoID      string  `json:"video_id,omitempty"`
	Position     float64 `json:"position"`
	TotalWatched float64 `json:"total_watched"`
}

// StatusFunc supplies the current session snapshot.
type StatusFunc func() SessionStatus

// Handler serves the ops endpoints.
type Handler struct {
	startTime time.Time
	ready     ReadyFunc
	status    StatusFunc
}

// NewHandler creates an ops handler. ready and status may be nil, in
// which case readiness always succeeds and status reports an empty
// snapshot.
func NewHandler(ready ReadyFunc, status StatusFunc) *Handler {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	if status == nil {
		status = func() SessionStatus { return SessionStatus{State: "idle"} }
	}
	return &Handler{
		startTime: time.Now(),
		ready:     ready,
		status:    status,
	}
}

// Router builds the chi router for the ops listener.
func (h *Handler) Router(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/statusz", h.Statusz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Healthz reports process liveness regardless of dependencies.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// Readyz reports whether the agent is ready: configuration loaded,
// backend reachable through a closed breaker, bridge attached.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// Statusz reports the current watch-session snapshot.
func (h *Handler) Statusz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal ops response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write ops response")
	}
}

// Server runs the ops listener as a supervised service.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New creates the ops server bound to cfg.Addr.
func New(cfg config.ServerConfig, handler *Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler.Router(cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Serve blocks until ctx is canceled or the listener fails. On
// cancellation the server drains connections within the shutdown
// timeout. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logging.Info().Str("addr", s.httpServer.Addr).Msg("Ops server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Server) String() string {
	return "ops-server"
}
