package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core to mask OAuth credentials in log output
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
	known    *sync.Map // explicit secret values to mask
}

// secretPattern defines a pattern for detecting and masking secrets
type secretPattern struct {
	name    string
	regex   *regexp.Regexp
	replace string
}

var defaultPatterns = []*secretPattern{
	{
		name:    "bearer_token",
		regex:   regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`),
		replace: "${1}****",
	},
	{
		name:    "basic_auth",
		regex:   regexp.MustCompile(`(?i)\b(basic\s+)[A-Za-z0-9\+\/]+=*`),
		replace: "${1}****",
	},
	// grant parameters in form bodies and query strings
	{
		name:    "form_credential",
		regex:   regexp.MustCompile(`(?i)\b((?:access_token|refresh_token|client_secret|password)=)[^&\s"]+`),
		replace: "${1}****",
	},
	// token documents returned by the token endpoint
	{
		name:    "json_credential",
		regex:   regexp.MustCompile(`(?i)("(?:access_token|refresh_token|client_secret|password)"\s*:\s*")[^"]*(")`),
		replace: "${1}****${2}",
	},
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns,
		known:    &sync.Map{},
	}
}

// RegisterSecret registers a literal secret (for example a client secret
// passed on the command line) so it is masked wherever it appears
func (s *SecretSanitizer) RegisterSecret(value string) {
	if len(value) < 4 {
		return
	}
	s.known.Store(value, true)
}

// sanitizeString applies all registered patterns to mask secrets
func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	s.known.Range(func(key, _ interface{}) bool {
		if secret, ok := key.(string); ok && secret != "" {
			result = strings.ReplaceAll(result, secret, maskValue(secret))
		}
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllString(result, pattern.replace)
	}

	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = s.sanitizeField(field)
	}

	return s.Core.Write(entry, sanitized)
}

// sanitizeField sanitizes a zap field
func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(b)))
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			original := err.Error()
			if sanitized := s.sanitizeString(original); sanitized != original {
				return zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	}
	return field
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:     s.Core.With(sanitized),
		patterns: s.patterns,
		known:    s.known,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue masks a secret value showing first 3 and last 2 characters
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
