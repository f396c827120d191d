package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// TypeKeyring is the reference type for OS keyring entries
	TypeKeyring = "keyring"

	// KeyringService groups fedsearch entries in the OS keyring
	KeyringService = "fedsearch"
)

// KeyringProvider resolves secrets from OS keyring (Keychain, Secret Service, WinCred)
type KeyringProvider struct {
	service string
}

// NewKeyringProvider creates a keyring provider scoped to service
func NewKeyringProvider(service string) *KeyringProvider {
	return &KeyringProvider{service: service}
}

// Resolve retrieves the secret value from the OS keyring
func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, err := keyring.Get(p.service, ref.Name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: keyring entry %s", ErrNotFound, ref.Name)
		}
		return "", fmt.Errorf("failed to get secret %s from keyring: %w", ref.Name, err)
	}
	return value, nil
}

// Store saves a secret to the OS keyring
func (p *KeyringProvider) Store(_ context.Context, ref Ref, value string) error {
	if err := keyring.Set(p.service, ref.Name, value); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", ref.Name, err)
	}
	return nil
}

// Delete removes a secret from the OS keyring
func (p *KeyringProvider) Delete(_ context.Context, ref Ref) error {
	if err := keyring.Delete(p.service, ref.Name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: keyring entry %s", ErrNotFound, ref.Name)
		}
		return fmt.Errorf("failed to delete secret %s from keyring: %w", ref.Name, err)
	}
	return nil
}
