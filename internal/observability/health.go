// Package observability provides health checks, metrics, and tracing capabilities
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker is a component that can report whether it works.
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the body of /healthz and /readyz
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// HealthManager runs the registered checkers. Liveness and readiness share
// the same checkers; readiness additionally fails until MarkReady is called.
type HealthManager struct {
	logger   *zap.SugaredLogger
	checkers []HealthChecker
	timeout  time.Duration
	ready    func() bool
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger, timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthManager{
		logger:  logger,
		timeout: timeout,
		ready:   func() bool { return true },
	}
}

// AddChecker registers a checker
func (hm *HealthManager) AddChecker(checker HealthChecker) {
	hm.checkers = append(hm.checkers, checker)
}

// SetReadyFunc overrides the readiness gate
func (hm *HealthManager) SetReadyFunc(ready func() bool) {
	hm.ready = ready
}

// HealthzHandler returns an HTTP handler for the /healthz endpoint
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.check(ctx, statusHealthy, statusUnhealthy)
		hm.writeResponse(w, response, statusHealthy)
	}
}

// ReadyzHandler returns an HTTP handler for the /readyz endpoint
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.check(ctx, statusReady, statusNotReady)
		if !hm.ready() {
			response.Status = statusNotReady
		}
		hm.writeResponse(w, response, statusReady)
	}
}

func (hm *HealthManager) check(ctx context.Context, ok, failed string) HealthResponse {
	response := HealthResponse{
		Status:     ok,
		Timestamp:  time.Now(),
		Components: make([]HealthStatus, 0, len(hm.checkers)),
	}

	for _, checker := range hm.checkers {
		start := time.Now()
		status := HealthStatus{Name: checker.Name(), Status: ok}

		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = failed
			status.Error = err.Error()
			response.Status = failed
			hm.logger.Warnw("Health check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

func (hm *HealthManager) writeResponse(w http.ResponseWriter, response HealthResponse, ok string) {
	statusCode := http.StatusOK
	if response.Status != ok {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}

// IsHealthy returns true if all health checks pass
func (hm *HealthManager) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()
	return hm.check(ctx, statusHealthy, statusUnhealthy).Status == statusHealthy
}
