package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a single configuration problem
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate fills in defaults for unset fields and then reports every
// remaining problem as one joined error.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.ReservedLocalName == "" {
		c.ReservedLocalName = DefaultReservedLocalName
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeoutSeconds
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = DefaultMaxTimeoutSeconds
	}
	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	if c.Observability == nil {
		c.Observability = DefaultConfig().Observability
	}
	if c.TLS == nil {
		c.TLS = DefaultConfig().TLS
	}

	verrs := c.ValidateDetailed()
	if len(verrs) == 0 {
		return nil
	}

	errs := make([]error, 0, len(verrs))
	for _, verr := range verrs {
		errs = append(errs, verr)
	}
	return errors.Join(errs...)
}

// ValidateDetailed returns all validation problems without touching the config
func (c *Config) ValidateDetailed() []ValidationError {
	var errs []ValidationError

	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			errs = append(errs, ValidationError{
				Field:   "listen",
				Message: fmt.Sprintf("invalid listen address %q: %v", c.Listen, err),
			})
		}
	}

	if strings.TrimSpace(c.ReservedLocalName) == "" {
		errs = append(errs, ValidationError{
			Field:   "reserved_local_name",
			Message: "must not be empty or only whitespaces",
		})
	}

	if c.MaxTimeout < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_timeout",
			Message: "must be at least 1 second",
		})
	}

	if c.DefaultTimeout < 1 || (c.MaxTimeout >= 1 && c.DefaultTimeout > c.MaxTimeout) {
		errs = append(errs, ValidationError{
			Field:   "default_timeout",
			Message: fmt.Sprintf("must be between 1 and %d seconds", c.MaxTimeout),
		})
	}

	if c.Observability != nil && c.Observability.Tracing != nil {
		tr := c.Observability.Tracing
		if tr.SampleRate < 0 || tr.SampleRate > 1 {
			errs = append(errs, ValidationError{
				Field:   "observability.tracing.sample_rate",
				Message: "must be between 0 and 1",
			})
		}
		if tr.Enabled && tr.OTLPEndpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "observability.tracing.otlp_endpoint",
				Message: "required when tracing is enabled",
			})
		}
	}

	return errs
}
