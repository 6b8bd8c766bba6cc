// File: internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/supplychain"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	service        *supplychain.Service
	metricsManager *metrics.Manager
	logger         *logrus.Logger

	allowedOrigins map[string]bool

	mu       sync.RWMutex
	checks   map[string]HealthCheck
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.ServerConfig, service *supplychain.Service, metricsManager *metrics.Manager) (*HTTPServer, error) {
	if cfg == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server configuration is required")
	}
	if service == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Supply chain service is required")
	}

	s := &HTTPServer{
		config:         cfg,
		service:        service,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		allowedOrigins: make(map[string]bool, len(cfg.AllowedOrigins)),
		checks:         make(map[string]HealthCheck),
		stop:           make(chan struct{}),
	}
	for _, origin := range cfg.AllowedOrigins {
		s.allowedOrigins[origin] = true
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// AddHealthCheck registers a dependency reported by /api/health and the
// component health gauge
func (s *HTTPServer) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler exposes the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	s.router.HandleFunc("/api", s.rootHandler).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	}

	api.HandleFunc("/medicines", s.createMedicineHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/medicines", s.listMedicinesHandler).Methods(http.MethodGet)
	api.HandleFunc("/medicines/{id}/history", s.historyHandler).Methods(http.MethodGet)
	api.HandleFunc("/medicines/{id}/stage", s.stageHandler).Methods(http.MethodGet)
	api.HandleFunc("/medicines/{id}/stage", s.updateStageHandler).Methods(http.MethodPut, http.MethodOptions)
	api.HandleFunc("/transactions", s.listTransactionsHandler).Methods(http.MethodGet)

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler()).Methods(http.MethodGet)
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateHealthMetrics(context.Background())
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// catch immediate bind errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.updateHealthMetrics(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.stop) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// runHealthChecks returns each component's status, sorted by name
func (s *HTTPServer) runHealthChecks(ctx context.Context) ([]componentHealth, bool) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	healthy := true
	out := make([]componentHealth, 0, len(names))
	for _, name := range names {
		c := componentHealth{Name: name, Healthy: true}
		if err := checks[name](ctx); err != nil {
			c.Healthy = false
			c.Error = utils.CodeOf(err)
			if c.Error == "" {
				c.Error = "unavailable"
			}
			healthy = false
		}
		out = append(out, c)
	}
	return out, healthy
}

func (s *HTTPServer) updateHealthMetrics(ctx context.Context) {
	s.metricsManager.UpdateSystemMetrics()
	components, _ := s.runHealthChecks(ctx)
	for _, c := range components {
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth(c.Name, c.Healthy)
	}
}
