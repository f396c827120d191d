package secret

import (
	"context"
	"fmt"
	"os"
)

// TypeEnv is the reference type for environment variables
const TypeEnv = "env"

// EnvProvider resolves secrets from environment variables
type EnvProvider struct{}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Resolve retrieves the secret value from environment variables
func (p *EnvProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, ok := os.LookupEnv(ref.Name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, ref.Name)
	}
	return value, nil
}

// Store is not supported for environment variables
func (p *EnvProvider) Store(context.Context, Ref, string) error {
	return fmt.Errorf("%w: env", ErrReadOnly)
}

// Delete is not supported for environment variables
func (p *EnvProvider) Delete(context.Context, Ref) error {
	return fmt.Errorf("%w: env", ErrReadOnly)
}
