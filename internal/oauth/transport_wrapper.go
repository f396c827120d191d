package oauth

import (
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// statusRecorder wraps an HTTP RoundTripper and remembers the status code of
// the last response that came back from the token endpoint.
//
// golang.org/x/oauth2 reports non-2xx answers as *oauth2.RetrieveError but
// hides the status of a 2xx answer it could not decode. The recorder lets
// the client tell "no response at all" apart from "response we could not
// use". One recorder serves exactly one exchange.
type statusRecorder struct {
	inner  http.RoundTripper
	logger *zap.Logger
	status atomic.Int32
}

func newStatusRecorder(transport http.RoundTripper, logger *zap.Logger) *statusRecorder {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &statusRecorder{inner: transport, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	logRequest(r.logger, req)

	start := time.Now()
	resp, err := r.inner.RoundTrip(req)
	if err != nil {
		r.logger.Debug("Token endpoint request failed",
			zap.String("url", RedactURL(req.URL.String())),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	r.status.Store(int32(resp.StatusCode))
	logResponse(r.logger, resp, time.Since(start))
	return resp, nil
}

// StatusCode returns the recorded status, or 0 when no response was received.
func (r *statusRecorder) StatusCode() int {
	return int(r.status.Load())
}
