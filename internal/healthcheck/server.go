package healthcheck

import (
	"context"
	"net/http"
	"sync"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/pkg/utils"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a single dependency is ready to serve.
type ReadinessCheck func(ctx context.Context) error

// Server exposes liveness, readiness, and optionally metrics over HTTP.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger

	mu     sync.RWMutex
	checks map[string]ReadinessCheck
}

// HealthResponse is the body returned by the probe endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func NewServer(port string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		mux:    mux,
		logger: logger,
		checks: make(map[string]ReadinessCheck),
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	return s
}

// RegisterCheck adds a named dependency check consulted by /ready.
func (s *Server) RegisterCheck(name string, check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// RegisterMetricsHandler mounts the /metrics endpoint. Call only when
// metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth is the liveness probe. It succeeds as long as the process
// can serve HTTP.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	})
}

// handleReady runs every registered dependency check and reports 503 if
// any of them fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := make(map[string]ReadinessCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}
	status := http.StatusOK
	ready := "READY"

	for name, check := range checks {
		if err := check(r.Context()); err != nil {
			details[name] = err.Error()
			status = http.StatusServiceUnavailable
			ready = "NOT_READY"
		} else {
			details[name] = "ok"
		}
	}

	utils.WriteJSONResponse(w, status, HealthResponse{
		Status:  ready,
		Details: details,
	})
}
