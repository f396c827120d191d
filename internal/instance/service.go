package instance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/oauth"
)

// Exchange outcomes reported to Metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeUnreachable = "unreachable"
	OutcomeMalformed   = "malformed"
	OutcomeSkipped     = "skipped"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
)

// TokenExchanger performs the OAuth2 grants against a remote instance.
// *oauth.TokenClient implements it.
type TokenExchanger interface {
	RequestToken(ctx context.Context, endpoint, clientID, clientSecret string,
		timeout time.Duration, username, password string) (*oauth.TokenResponse, error)
	RefreshToken(ctx context.Context, endpoint, clientID, clientSecret string,
		timeout time.Duration, refreshToken string) (*oauth.TokenResponse, error)
}

// Metrics receives exchange and fetch outcomes.
type Metrics interface {
	RecordTokenExchange(grant, outcome string, duration time.Duration)
	RecordDelegatedFetch(outcome string, duration time.Duration)
}

// ServiceConfig holds the service's tunables. Zero values get defaults.
type ServiceConfig struct {
	// ReservedLocalName is the name of the running instance.
	ReservedLocalName string
	// FetchTimeout bounds delegated fetches.
	FetchTimeout time.Duration
	// FetchTransport is used for delegated fetches. Defaults to http.DefaultTransport.
	FetchTransport http.RoundTripper
	// Now is the clock used for token expiry. Defaults to time.Now.
	Now func() time.Time
	// Metrics is optional.
	Metrics Metrics
}

const (
	defaultReservedLocalName = "Local"
	defaultFetchTimeout      = 10 * time.Second
)

// RegisterRequest carries the inputs of a registration.
type RegisterRequest struct {
	Name         string
	Endpoint     string
	IsPrivate    bool
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
}

// Service orchestrates registration, refresh and delegated fetches.
type Service struct {
	registry *Registry
	tokens   TokenExchanger
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  Metrics
	locks    *keyedMutex

	now            func() time.Time
	fetchTimeout   time.Duration
	fetchTransport http.RoundTripper
}

// NewService wires a service over store and tokens.
func NewService(store Store, tokens TokenExchanger, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReservedLocalName == "" {
		cfg.ReservedLocalName = defaultReservedLocalName
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}

	logger = logger.Named("instance-service")
	return &Service{
		registry:       NewRegistry(store, cfg.ReservedLocalName, logger),
		tokens:         tokens,
		logger:         logger,
		tracer:         otel.Tracer("github.com/fedsearch/fedsearch-go/internal/instance"),
		metrics:        cfg.Metrics,
		locks:          newKeyedMutex(),
		now:            cfg.Now,
		fetchTimeout:   cfg.FetchTimeout,
		fetchTransport: cfg.FetchTransport,
	}
}

// ReservedName returns the name no remote instance may take.
func (s *Service) ReservedName() string {
	return s.registry.ReservedName()
}

// Register creates a new instance. Private instances are registered only
// after a successful password grant; nothing is persisted otherwise.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (inst *Instance, err error) {
	ctx, span := s.tracer.Start(ctx, "instance.register", trace.WithAttributes(
		attribute.Bool("instance.private", req.IsPrivate),
	))
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(req.Name)
	if err := ValidateName(name, s.registry.ReservedName()); err != nil {
		return nil, err
	}

	endpoint, perr := NormalizeEndpoint(req.Endpoint)
	if perr != nil {
		s.logger.Debug("Rejected malformed endpoint", zap.String("endpoint", oauth.RedactURL(req.Endpoint)), zap.Error(perr))
		return nil, apiError(MsgEndpointMalformed, perr)
	}
	span.SetAttributes(attribute.String("instance.endpoint", endpoint))

	inst = &Instance{Name: name, Endpoint: endpoint}
	if req.IsPrivate {
		resp, err := s.exchange(ctx, "password", endpoint, func(ctx context.Context) (*oauth.TokenResponse, error) {
			return s.tokens.RequestToken(ctx, endpoint, req.ClientID, req.ClientSecret, req.Timeout, req.Username, req.Password)
		})
		if err != nil {
			return nil, err
		}
		inst.AccessToken = resp.AccessToken
		inst.RefreshToken = resp.RefreshToken
		inst.Expires = expiry(s.now(), resp.ExpiresIn)
	}

	saved, err := s.registry.Upsert(inst)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Instance registered",
		zap.String("id", saved.ID),
		zap.String("name", saved.Name),
		zap.String("endpoint", saved.Endpoint),
		zap.Bool("private", saved.HasCredentials()))
	return saved, nil
}

// Refresh renews the token triple of inst with its stored refresh token.
// A public instance sends the grant without one; a remote that accepts it
// turns the instance private. Refreshes of the same instance are serialized
// and always start from the stored record, so a concurrent refresh never
// loses the newer tokens. On success inst is overwritten with the saved
// record.
func (s *Service) Refresh(ctx context.Context, inst *Instance, clientID, clientSecret string, timeout time.Duration) (_ *Instance, err error) {
	ctx, span := s.tracer.Start(ctx, "instance.refresh", trace.WithAttributes(
		attribute.String("instance.id", inst.ID),
	))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(inst.ID)
	defer unlock()

	current, err := s.registry.GetByID(inst.ID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		s.logger.Debug("Refreshing an instance that holds no refresh token", zap.String("name", current.Name))
	}

	resp, err := s.exchange(ctx, "refresh_token", current.Endpoint, func(ctx context.Context) (*oauth.TokenResponse, error) {
		return s.tokens.RefreshToken(ctx, current.Endpoint, clientID, clientSecret, timeout, current.RefreshToken)
	})
	if err != nil {
		return nil, err
	}

	current.AccessToken = resp.AccessToken
	current.RefreshToken = resp.RefreshToken
	current.Expires = expiry(s.now(), resp.ExpiresIn)

	saved, err := s.registry.Upsert(current)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Instance tokens refreshed",
		zap.String("id", saved.ID),
		zap.String("name", saved.Name),
		zap.Timep("expires", saved.Expires))
	*inst = *saved
	return saved, nil
}

// exchange runs one grant and classifies its outcome. Only a 200 with a
// usable token body passes.
func (s *Service) exchange(ctx context.Context, grant, endpoint string,
	call func(context.Context) (*oauth.TokenResponse, error)) (*oauth.TokenResponse, error) {
	start := time.Now()
	resp, err := call(ctx)
	duration := time.Since(start)

	logger := s.logger.With(zap.String("grant_type", grant), zap.String("endpoint", endpoint))
	switch {
	case errors.Is(err, oauth.ErrTransport):
		logger.Warn("Remote instance unreachable", zap.Error(err))
		s.metrics.RecordTokenExchange(grant, OutcomeUnreachable, duration)
		return nil, apiError(MsgAccessDenied, err)
	case err != nil:
		logger.Warn("Remote instance returned an unusable token response", zap.Error(err))
		s.metrics.RecordTokenExchange(grant, OutcomeMalformed, duration)
		return nil, apiError(MsgAccessDenied, err)
	case !resp.OK():
		logger.Warn("Remote instance rejected the credentials",
			zap.Int("status_code", resp.StatusCode),
			zap.String("error_code", resp.ErrorCode))
		s.metrics.RecordTokenExchange(grant, OutcomeRejected, duration)
		return nil, apiError(MsgAccessDenied, &statusError{code: resp.StatusCode})
	}

	s.metrics.RecordTokenExchange(grant, OutcomeSuccess, duration)
	return resp, nil
}

// DelegateFetch resolves the instance whose endpoint starts with baseURL and
// GETs fullURL with its access token. When fullURL does not contain the
// resolved endpoint it returns (nil, nil) so the token never leaves for a
// foreign host. Token expiry is not checked; callers refresh explicitly.
func (s *Service) DelegateFetch(ctx context.Context, baseURL, fullURL string) (resp *http.Response, err error) {
	ctx, span := s.tracer.Start(ctx, "instance.delegate_fetch")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	inst, err := s.registry.GetByEndpointStartingWith(baseURL)
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, ErrDoesNotExist) {
			outcome = OutcomeNotFound
		}
		s.metrics.RecordDelegatedFetch(outcome, time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.String("instance.id", inst.ID))

	if !strings.Contains(fullURL, inst.Endpoint) {
		s.logger.Warn("Delegated fetch refused: URL is outside the resolved instance",
			zap.String("instance", inst.Name),
			zap.String("endpoint", inst.Endpoint),
			zap.String("url", oauth.RedactURL(fullURL)))
		s.metrics.RecordDelegatedFetch(OutcomeSkipped, time.Since(start))
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		s.metrics.RecordDelegatedFetch(OutcomeError, time.Since(start))
		return nil, apiError(MsgFetchFailed, err)
	}

	client := oauth.NewBearerClient(inst.AccessToken, s.fetchTimeout, s.fetchTransport)
	resp, err = client.Do(req)
	if err != nil {
		s.logger.Warn("Delegated fetch failed",
			zap.String("instance", inst.Name),
			zap.String("url", oauth.RedactURL(fullURL)),
			zap.Error(err))
		s.metrics.RecordDelegatedFetch(OutcomeUnreachable, time.Since(start))
		return nil, apiError(MsgFetchFailed, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	s.logger.Debug("Delegated fetch completed",
		zap.String("instance", inst.Name),
		zap.String("url", oauth.RedactURL(fullURL)),
		zap.Int("status_code", resp.StatusCode))
	s.metrics.RecordDelegatedFetch(OutcomeSuccess, time.Since(start))
	return resp, nil
}

// Rename changes the name of the instance with the given id.
func (s *Service) Rename(id, name string) (*Instance, error) {
	inst, err := s.registry.GetByID(id)
	if err != nil {
		return nil, err
	}
	previous := inst.Name
	inst.Name = name

	saved, err := s.registry.Upsert(inst)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Instance renamed", zap.String("id", id), zap.String("from", previous), zap.String("to", saved.Name))
	return saved, nil
}

// Delete removes inst.
func (s *Service) Delete(inst *Instance) error {
	return s.registry.Delete(inst)
}

// GetAll returns every registered instance.
func (s *Service) GetAll() ([]*Instance, error) {
	return s.registry.GetAll()
}

// GetByID looks an instance up by id.
func (s *Service) GetByID(id string) (*Instance, error) {
	return s.registry.GetByID(id)
}

// GetByName looks an instance up by name.
func (s *Service) GetByName(name string) (*Instance, error) {
	return s.registry.GetByName(name)
}

// GetByEndpointStartingWith returns the single instance whose endpoint starts with prefix.
func (s *Service) GetByEndpointStartingWith(prefix string) (*Instance, error) {
	return s.registry.GetByEndpointStartingWith(prefix)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote answered %d %s", e.code, http.StatusText(e.code))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Message(err))
	}
	span.End()
}

type nopMetrics struct{}

func (nopMetrics) RecordTokenExchange(string, string, time.Duration) {}
func (nopMetrics) RecordDelegatedFetch(string, time.Duration)        {}
