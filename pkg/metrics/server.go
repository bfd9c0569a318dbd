package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/pagefs/internal/logger"
)

// DefaultCheckTimeout bounds a single health check.
const DefaultCheckTimeout = 2 * time.Second

// HealthCheck reports whether one component of the node can serve. A nil
// error means healthy.
type HealthCheck func(ctx context.Context) error

// Server exposes the node's operational endpoints:
//   - GET /metrics: Prometheus scrape endpoint
//   - GET /healthz: runs every registered HealthCheck; 200 when all pass,
//     503 otherwise, one "name: status" line per check
//
// Thread Safety: AddCheck may be called while the server is serving.
type Server struct {
	server       *http.Server
	mux          *http.ServeMux
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheck

	stopOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on (default: 9090)
	Port int

	// CheckTimeout bounds each health check (default: 2s)
	CheckTimeout time.Duration
}

// NewServer creates a stopped server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = 9090
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultCheckTimeout
	}

	s := &Server{
		mux:          http.NewServeMux(),
		checkTimeout: config.CheckTimeout,
		checks:       make(map[string]HealthCheck),
	}

	if registry := GetRegistry(); registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		s.mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// AddCheck registers check under name, replacing any check of that name.
func (s *Server) AddCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler returns the request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
//
// Returns:
//   - error: nil after a clean shutdown, or the listen/shutdown failure
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("metrics server shutdown error: %w", shutdownErr)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()
	sort.Strings(names)

	status := http.StatusOK
	lines := make([]string, 0, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), s.checkTimeout)
		err := checks[name](ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			logger.Warn("Health check %s failed: %v", name, err)
			lines = append(lines, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		lines = append(lines, name+": ok")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
}
