package instance

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package is an *Error whose Kind
// is one of these, so callers can branch with errors.Is.
var (
	// ErrAPI means the credential exchange with the remote failed or the
	// supplied endpoint could not be parsed.
	ErrAPI = errors.New("api error")

	// ErrNotUnique means a name or endpoint collided with another record.
	ErrNotUnique = errors.New("not unique")

	// ErrDoesNotExist means a lookup matched no record.
	ErrDoesNotExist = errors.New("does not exist")

	// ErrModel covers every other persistence or validation failure.
	ErrModel = errors.New("model error")
)

// User-facing messages.
const (
	MsgEndpointMalformed = "Endpoint is not well formatted."
	MsgAccessDenied      = "Unable to get access to the remote instance using these parameters."
	MsgNotUnique         = "Unable to create the new repository: Not Unique"
	MsgFetchFailed       = "Unable to fetch the resource from the remote instance."
)

// Error is a classified failure with a message safe to show to users.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func apiError(message string, err error) *Error {
	return &Error{Kind: ErrAPI, Message: message, Err: err}
}

func notUniqueError(err error) *Error {
	return &Error{Kind: ErrNotUnique, Message: MsgNotUnique, Err: err}
}

func doesNotExist(format string, args ...any) *Error {
	return &Error{Kind: ErrDoesNotExist, Message: fmt.Sprintf(format, args...)}
}

func modelError(message string, err error) *Error {
	return &Error{Kind: ErrModel, Message: message, Err: err}
}

// Message returns the user-facing message of err, falling back to its
// Error() text for unclassified errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
