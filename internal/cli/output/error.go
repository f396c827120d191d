package output

// StructuredError is a CLI failure with a stable code for scripts.
type StructuredError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`

	// Guidance is an optional hint on how to recover
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`
}

// Error implements the error interface for StructuredError.
func (e StructuredError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInstanceNotFound    = "INSTANCE_NOT_FOUND"
	ErrCodeNotUnique           = "NOT_UNIQUE"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// NewStructuredError creates a new StructuredError with the given code and message.
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

// WithGuidance adds guidance to the error.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}
