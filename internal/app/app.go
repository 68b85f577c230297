// Package app implements the operator HTTP API: health, state, the latest
// recorded telemetry, operator commands and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"QuadExplore/internal/model"
	"QuadExplore/internal/recorder"
)

// Runtime is the part of the orchestrator the API exposes.
type Runtime interface {
	Health() model.HealthReport
	Snapshot() model.Snapshot
	// PushOperator feeds an operator command into TeleopOverride.
	PushOperator(c model.OperatorCommand) error
}

type App struct {
	Rec     *recorder.Recorder
	Mux     *http.ServeMux
	Server  *http.Server
	rt      Runtime
	metrics http.Handler
	log     *slog.Logger
	mu      sync.Mutex
	stopped bool
}

// NewApp wires the routes. rec and metrics may be nil.
func NewApp(rt Runtime, rec *recorder.Recorder, metrics http.Handler, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Rec:     rec,
		Mux:     http.NewServeMux(),
		rt:      rt,
		metrics: metrics,
		log:     logger.With("component", "app"),
	}
	a.registerRoutes()
	return a
}

// Handler returns the routed handler wrapped in request logging.
func (a *App) Handler() http.Handler { return a.logRequests(a.Mux) }

// Start launches the web server and blocks until stopped.
func (a *App) Start(addr string) error {
	if addr == "" {
		a.log.Info("app server not started (empty address)")
		return nil
	}
	if a == nil || a.Mux == nil {
		return fmt.Errorf("[app] Start called without routes")
	}

	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.Server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := a.Server
	a.mu.Unlock()

	a.log.Info("web server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("[app] HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the web server; a later Start returns at once.
// The recorder belongs to the runtime and stays open.
func (a *App) Stop(ctx context.Context) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.stopped = true
	srv := a.Server
	a.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Warn("HTTP server shutdown error", "error", err)
		return
	}
	a.log.Info("web server stopped cleanly")
}
