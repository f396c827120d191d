package oauth

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sensitive header names that should be redacted in logs.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
}

// Sensitive parameter names in request bodies or URLs.
var sensitiveParams = []string{
	"access_token",
	"refresh_token",
	"client_secret",
	"password",
	"token",
}

var sensitiveParamPatterns = compileParamPatterns(sensitiveParams)

// tokenPattern matches Bearer and Basic credentials.
var tokenPattern = regexp.MustCompile(`(?i)((?:bearer|basic)\s+)[a-zA-Z0-9\-_\.=+/]+`)

// jsonSecretPattern matches "access_token": "..." style members.
var jsonSecretPattern = regexp.MustCompile(`(?i)("(?:access_token|refresh_token|client_secret|password)"\s*:\s*")[^"]*(")`)

const redacted = "***REDACTED***"

func compileParamPatterns(params []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(params))
	for _, param := range params {
		patterns = append(patterns, regexp.MustCompile(`(?i)(\b`+param+`=)[^&\s]+`))
	}
	return patterns
}

// RedactSensitiveData redacts tokens, passwords and client secrets from a
// string, whether they appear as Authorization values, form fields or JSON
// members.
func RedactSensitiveData(data string) string {
	if data == "" {
		return data
	}

	result := tokenPattern.ReplaceAllString(data, "${1}"+redacted)
	result = jsonSecretPattern.ReplaceAllString(result, "${1}"+redacted+"${2}")
	for _, pattern := range sensitiveParamPatterns {
		result = pattern.ReplaceAllString(result, "${1}"+redacted)
	}
	return result
}

// RedactHeaders creates a copy of headers with sensitive values redacted.
// Returns a map suitable for logging.
func RedactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			out[key] = redacted
			continue
		}
		out[key] = RedactSensitiveData(strings.Join(values, ", "))
	}
	return out
}

// RedactURL redacts sensitive query parameters from a URL string.
func RedactURL(urlStr string) string {
	if urlStr == "" {
		return urlStr
	}
	result := urlStr
	for _, pattern := range sensitiveParamPatterns {
		result = pattern.ReplaceAllString(result, "${1}"+redacted)
	}
	return result
}

// MaskSecret shows the first 3 and last 4 characters of a secret.
// Secrets of 8 characters or fewer are fully masked.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:3] + "***" + secret[len(secret)-4:]
}

func logRequest(logger *zap.Logger, req *http.Request) {
	logger.Debug("Token endpoint request",
		zap.String("method", req.Method),
		zap.String("url", RedactURL(req.URL.String())),
		zap.Any("headers", RedactHeaders(req.Header)),
	)
}

func logResponse(logger *zap.Logger, resp *http.Response, duration time.Duration) {
	logger.Debug("Token endpoint response",
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", http.StatusText(resp.StatusCode)),
		zap.Any("headers", RedactHeaders(resp.Header)),
		zap.Duration("duration", duration),
	)
}
