package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TokenPath is appended to an instance endpoint to form its token URL.
const TokenPath = "/o/token/"

// TokenURL returns the token endpoint of a remote instance.
func TokenURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + TokenPath
}

// TokenResponse is the outcome of an exchange that reached the endpoint.
//
// StatusCode is always set. The token fields are populated only when the
// endpoint answered 2xx with a well-formed body. ErrorCode carries the
// OAuth2 "error" member of a rejection, when the endpoint sent one.
type TokenResponse struct {
	StatusCode   int
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	ErrorCode    string
}

// OK reports whether the endpoint accepted the exchange.
func (r *TokenResponse) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

// TokenClient performs the password and refresh_token grants against a
// remote instance.
//
// The result contract is shared by both grants:
//   - endpoint unreachable: nil response, *TransportError
//   - endpoint rejected the request: response with the non-2xx StatusCode, nil error
//   - 2xx with an unusable body: response with StatusCode, error wrapping ErrMalformedResponse
//   - success: fully populated response, nil error
type TokenClient struct {
	transport http.RoundTripper
	logger    *zap.Logger
}

// NewTokenClient creates a client. A nil transport uses http.DefaultTransport.
func NewTokenClient(transport http.RoundTripper, logger *zap.Logger) *TokenClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenClient{
		transport: transport,
		logger:    logger.Named("oauth"),
	}
}

// RequestToken runs the resource-owner password grant. Client credentials
// travel in the form body.
func (c *TokenClient) RequestToken(ctx context.Context, endpoint, clientID, clientSecret string,
	timeout time.Duration, username, password string) (*TokenResponse, error) {
	conf := newConfig(endpoint, clientID, clientSecret, oauth2.AuthStyleInParams)
	return c.exchange(ctx, endpoint, "password", timeout, func(ctx context.Context) (*oauth2.Token, error) {
		return conf.PasswordCredentialsToken(ctx, username, password)
	})
}

// RefreshToken runs the refresh_token grant. Client credentials travel as
// HTTP Basic authentication. An empty refreshToken omits the member.
func (c *TokenClient) RefreshToken(ctx context.Context, endpoint, clientID, clientSecret string,
	timeout time.Duration, refreshToken string) (*TokenResponse, error) {
	conf := newConfig(endpoint, clientID, clientSecret, oauth2.AuthStyleInHeader)
	return c.exchange(ctx, endpoint, "refresh_token", timeout, func(ctx context.Context) (*oauth2.Token, error) {
		if refreshToken == "" {
			// TokenSource refuses to refresh without a token; Exchange sends the
			// same grant with an extra empty code member.
			return conf.Exchange(ctx, "", oauth2.SetAuthURLParam("grant_type", "refresh_token"))
		}
		return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

func newConfig(endpoint, clientID, clientSecret string, style oauth2.AuthStyle) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  TokenURL(endpoint),
			AuthStyle: style,
		},
	}
}

func (c *TokenClient) exchange(ctx context.Context, endpoint, grant string, timeout time.Duration,
	fetch func(context.Context) (*oauth2.Token, error)) (*TokenResponse, error) {
	recorder := newStatusRecorder(c.transport, c.logger)
	httpClient := &http.Client{Timeout: timeout, Transport: recorder}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	start := time.Now()
	token, err := fetch(ctx)
	logger := c.logger.With(
		zap.String("grant_type", grant),
		zap.String("token_url", TokenURL(endpoint)),
		zap.Duration("duration", time.Since(start)))

	var retrieveErr *oauth2.RetrieveError
	switch {
	case err == nil:
		expiresIn, ok := expiresInOf(token)
		if !ok {
			logger.Warn("Token response has no usable expires_in", zap.Int("status_code", recorder.StatusCode()))
			return &TokenResponse{StatusCode: recorder.StatusCode()},
				fmt.Errorf("%w: missing expires_in", ErrMalformedResponse)
		}
		logger.Debug("Token exchange succeeded",
			zap.Duration("expires_in", expiresIn),
			zap.Bool("has_refresh_token", token.RefreshToken != ""))
		return &TokenResponse{
			StatusCode:   recorder.StatusCode(),
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresIn:    expiresIn,
		}, nil

	case errors.As(err, &retrieveErr) && retrieveErr.Response != nil:
		logger.Info("Token endpoint rejected the exchange",
			zap.Int("status_code", retrieveErr.Response.StatusCode),
			zap.String("error_code", retrieveErr.ErrorCode))
		return &TokenResponse{
			StatusCode: retrieveErr.Response.StatusCode,
			ErrorCode:  retrieveErr.ErrorCode,
		}, nil

	case recorder.StatusCode() != 0:
		logger.Warn("Token endpoint returned an unusable body",
			zap.Int("status_code", recorder.StatusCode()),
			zap.String("error", RedactSensitiveData(err.Error())))
		return &TokenResponse{StatusCode: recorder.StatusCode()},
			fmt.Errorf("%w: %v", ErrMalformedResponse, err)

	default:
		logger.Warn("Token endpoint unreachable", zap.Error(err))
		return nil, &TransportError{Endpoint: TokenURL(endpoint), Err: err}
	}
}

// expiresInOf reads the lifetime the endpoint granted. x/oauth2 keeps the raw
// member in Extra and only derives Expiry from it.
func expiresInOf(token *oauth2.Token) (time.Duration, bool) {
	if token.ExpiresIn > 0 {
		return time.Duration(token.ExpiresIn) * time.Second, true
	}

	switch v := token.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second, true
	case int64:
		return time.Duration(v) * time.Second, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second, true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(n) * time.Second, true
		}
	}

	if !token.Expiry.IsZero() {
		return time.Until(token.Expiry).Round(time.Second), true
	}
	return 0, false
}

// NewBearerClient returns an HTTP client that attaches accessToken as a
// Bearer Authorization header. An empty token yields a plain client.
func NewBearerClient(accessToken string, timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	if accessToken == "" {
		return &http.Client{Timeout: timeout, Transport: base}
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base,
		},
	}
}
