// Package instance models remote federated-search instances and manages
// their OAuth2 token lifecycle: registration, refresh, persistence and
// delegated fetches of remote resources.
package instance

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// MaxNameLength bounds Instance.Name.
	MaxNameLength = 200
	// MaxTokenLength bounds AccessToken and RefreshToken.
	MaxTokenLength = 200
)

// Instance is one registered remote instance. AccessToken, RefreshToken and
// Expires are either all set (private instance) or all unset (public).
type Instance struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Endpoint     string     `json:"endpoint"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	Expires      *time.Time `json:"expires"`

	Version uint64    `json:"-"`
	Created time.Time `json:"-"`
	Updated time.Time `json:"-"`
}

// HasCredentials reports whether the instance carries a token triple.
func (i *Instance) HasCredentials() bool {
	return i.AccessToken != "" && i.RefreshToken != "" && i.Expires != nil
}

// Normalize trims surrounding whitespace from the name.
func (i *Instance) Normalize() {
	i.Name = strings.TrimSpace(i.Name)
}

// Validate checks field constraints. reservedName is the name of the
// running instance, which no remote may take.
func (i *Instance) Validate(reservedName string) error {
	if err := ValidateName(i.Name, reservedName); err != nil {
		return err
	}

	if _, err := NormalizeEndpoint(i.Endpoint); err != nil {
		return modelError("Endpoint is not a well formed URL.", err)
	}

	set := 0
	if i.AccessToken != "" {
		set++
	}
	if i.RefreshToken != "" {
		set++
	}
	if i.Expires != nil {
		set++
	}
	if set != 0 && set != 3 {
		return modelError("Access token, refresh token and expiry must be set together.", nil)
	}
	if len(i.AccessToken) > MaxTokenLength || len(i.RefreshToken) > MaxTokenLength {
		return modelError(fmt.Sprintf("Tokens must not exceed %d characters.", MaxTokenLength), nil)
	}
	return nil
}

// ValidateName applies the name rules to an already trimmed name.
func ValidateName(name, reservedName string) error {
	if name == "" {
		return modelError("This field should not be empty or only whitespaces.", nil)
	}
	if len(name) > MaxNameLength {
		return modelError(fmt.Sprintf("Name must not exceed %d characters.", MaxNameLength), nil)
	}
	if reservedName != "" && strings.EqualFold(name, reservedName) {
		return modelError(fmt.Sprintf("By default, the instance named %q is the instance currently running.", reservedName), nil)
	}
	return nil
}

// NormalizeEndpoint checks that raw is an absolute URL and returns it as
// written, minus surrounding whitespace and trailing slashes.
func NormalizeEndpoint(raw string) (string, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", raw)
	}
	return endpoint, nil
}
