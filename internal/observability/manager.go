package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/config"
)

// ServiceName identifies this process in traces
const ServiceName = "fedsearch"

// Manager coordinates all observability features
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager from the application config.
// A nil cfg enables health checks only.
func NewManager(logger *zap.SugaredLogger, cfg *config.ObservabilityConfig, version string) (*Manager, error) {
	manager := &Manager{
		logger:    logger,
		health:    NewHealthManager(logger, 5*time.Second),
		startTime: time.Now(),
	}

	if cfg == nil {
		return manager, nil
	}

	if cfg.MetricsEnabled {
		manager.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tracing, err := NewTracingManager(logger, TracingConfig{
			Enabled:        true,
			ServiceName:    ServiceName,
			ServiceVersion: version,
			OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		manager.tracing = tracing
	}

	return manager, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager, nil when metrics are disabled
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager, nil when tracing is disabled
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// RegisterHealthChecker registers a health checker
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	m.health.AddChecker(checker)
}

// HTTPMiddleware returns combined HTTP middleware for observability
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	middlewares := make([]func(http.Handler) http.Handler, 0, 2)

	if m.tracing != nil {
		middlewares = append(middlewares, m.tracing.HTTPMiddleware())
	}
	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}

	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// UpdateMetrics refreshes gauges that are sampled rather than counted
func (m *Manager) UpdateMetrics(instanceCount int) {
	if m.metrics == nil {
		return
	}
	m.metrics.SetUptime(m.startTime)
	m.metrics.SetInstanceCount(instanceCount)
}

// Close gracefully shuts down observability components
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		if err := m.tracing.Close(ctx); err != nil {
			m.logger.Errorw("Failed to close tracing manager", "error", err)
			return err
		}
	}
	return nil
}
