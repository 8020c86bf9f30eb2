// Package server exposes the terminal's health, status and Prometheus
// metrics over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"copytrader/internal/core"
	"copytrader/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc contributes live values to /status
type StatusFunc func() map[string]interface{}

// HealthServer serves /health, /status and /metrics
type HealthServer struct {
	addr   string
	logger core.ILogger
	hm     core.IHealthMonitor

	mu        sync.RWMutex
	status    map[string]string
	providers []StatusFunc

	srv      *http.Server
	listener net.Listener
}

// NewHealthServer creates a server on addr (":9090"). hm may be nil.
func NewHealthServer(addr string, logger core.ILogger, hm core.IHealthMonitor) *HealthServer {
	return &HealthServer{
		addr:   addr,
		logger: logger.WithField("component", "health_server"),
		hm:     hm,
		status: make(map[string]string),
	}
}

// Handler returns the routes without binding a port
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the port and serves in the background
func (s *HealthServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting health server", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server failed", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address, empty before Start
func (s *HealthServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server
func (s *HealthServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping health server")
	return s.srv.Shutdown(ctx)
}

// UpdateStatus sets a static /status entry
func (s *HealthServer) UpdateStatus(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = value
}

// AddStatusProvider registers a source of live /status entries
func (s *HealthServer) AddStatusProvider(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, fn)
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()

	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
		"metrics": map[string]interface{}{
			"connections":   metrics.GetConnections(),
			"open_trades":   metrics.GetOpenTrades(),
			"position_size": metrics.GetPositionSize(),
		},
	}

	code := http.StatusOK
	if s.hm != nil {
		health["components"] = s.hm.GetStatus()
		if !s.hm.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, health)
}

func (s *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	merged := make(map[string]interface{}, len(s.status))
	for k, v := range s.status {
		merged[k] = v
	}
	providers := append([]StatusFunc(nil), s.providers...)
	s.mu.RUnlock()

	for _, p := range providers {
		for k, v := range p() {
			merged[k] = v
		}
	}
	if s.hm != nil {
		merged["components"] = s.hm.GetStatus()
	}

	writeJSON(w, http.StatusOK, merged)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
