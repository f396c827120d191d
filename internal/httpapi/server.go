package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/instance"
	"github.com/fedsearch/fedsearch-go/internal/observability"
)

// InstanceService is the core surface the REST API calls into.
// *instance.Service implements it.
type InstanceService interface {
	ReservedName() string
	Register(ctx context.Context, req instance.RegisterRequest) (*instance.Instance, error)
	Refresh(ctx context.Context, inst *instance.Instance, clientID, clientSecret string, timeout time.Duration) (*instance.Instance, error)
	DelegateFetch(ctx context.Context, baseURL, fullURL string) (*http.Response, error)
	Rename(id, name string) (*instance.Instance, error)
	Delete(inst *instance.Instance) error
	GetAll() ([]*instance.Instance, error)
	GetByID(id string) (*instance.Instance, error)
}

// Options configures the API server
type Options struct {
	// APIKey protects the mutating routes. Empty disables the check.
	APIKey string
	// MaxTimeout is the largest timeout, in seconds, a client may request.
	MaxTimeout int
	// HTTPLogger receives one access log line per request. Optional.
	HTTPLogger *zap.Logger
}

// Server provides HTTP API endpoints with chi router
type Server struct {
	service       InstanceService
	options       Options
	logger        *zap.SugaredLogger
	httpLogger    *zap.Logger
	router        *chi.Mux
	observability *observability.Manager
}

// NewServer creates a new HTTP API server
func NewServer(service InstanceService, opts Options, logger *zap.SugaredLogger, obs *observability.Manager) *Server {
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 60
	}
	httpLogger := opts.HTTPLogger
	if httpLogger == nil {
		httpLogger = zap.NewNop()
	}

	s := &Server{
		service:       service,
		options:       opts,
		logger:        logger,
		httpLogger:    httpLogger,
		router:        chi.NewRouter(),
		observability: obs,
	}

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		s.router.Use(s.observability.HTTPMiddleware())
	}

	s.router.Use(s.httpLoggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLoggerMiddleware())

	if s.observability != nil {
		if health := s.observability.Health(); health != nil {
			s.router.Get("/healthz", health.HealthzHandler())
			s.router.Get("/readyz", health.ReadyzHandler())
		}
		if metrics := s.observability.Metrics(); metrics != nil {
			s.router.Handle("/metrics", metrics.Handler())
		}
	}

	// Every /rest route, reads and blob fetches included, requires the API
	// key when one is configured
	s.router.Route("/rest", func(r chi.Router) {
		r.Use(s.apiKeyAuthMiddleware())

		r.Get("/instance", s.handleListInstances)
		r.Get("/instance/{id}", s.handleGetInstance)
		r.Post("/instance", s.handleCreateInstance)
		r.Patch("/instance/{id}", s.handleRenameInstance)
		r.Delete("/instance/{id}", s.handleDeleteInstance)
		r.Patch("/instance/{id}/refresh", s.handleRefreshInstance)

		r.Get("/blob", s.handleGetBlob)
	})

	s.logger.Debugw("HTTP API routes setup completed", "api_routes", "/rest/*")
}

// Response envelopes

// SuccessResponse wraps the payload of a successful call
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// ErrorResponse carries a user-facing error message
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, SuccessResponse{Success: true, Data: data})
}
