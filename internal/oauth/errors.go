// Package oauth exchanges credentials with a remote instance's OAuth2 token
// endpoint and builds bearer-authenticated HTTP clients for delegated calls.
package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates the token endpoint could not be reached at all:
	// DNS failure, refused connection, TLS failure or timeout. No HTTP status
	// was received.
	ErrTransport = errors.New("token endpoint unreachable")

	// ErrMalformedResponse indicates the endpoint answered 2xx but the body
	// did not carry the expected token fields.
	ErrMalformedResponse = errors.New("malformed token response")
)

// TransportError carries the endpoint and cause of a failed exchange that
// never produced an HTTP response.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, RedactURL(e.Endpoint), e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
