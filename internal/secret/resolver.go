package secret

import (
	"context"
	"fmt"
	"strings"
)

// Resolver expands references using registered providers
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver with the env and keyring providers
func NewResolver() *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.RegisterProvider(TypeEnv, NewEnvProvider())
	r.RegisterProvider(TypeKeyring, NewKeyringProvider(KeyringService))
	return r
}

// RegisterProvider registers or replaces the provider for secretType
func (r *Resolver) RegisterProvider(secretType string, provider Provider) {
	r.providers[secretType] = provider
}

func (r *Resolver) provider(secretType string) (Provider, error) {
	p, ok := r.providers[secretType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, secretType)
	}
	return p, nil
}

// Resolve resolves a single reference
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	p, err := r.provider(ref.Type)
	if err != nil {
		return "", err
	}
	return p.Resolve(ctx, ref)
}

// Expand replaces every reference in input with its value. Input without
// references is returned unchanged.
func (r *Resolver) Expand(ctx context.Context, input string) (string, error) {
	if !IsRef(input) {
		return input, nil
	}

	result := input
	for _, ref := range FindRefs(input) {
		value, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %s: %w", ref.Original, err)
		}
		result = strings.ReplaceAll(result, ref.Original, value)
	}
	return result, nil
}

// ExpandAll expands each pointed-to string in place, stopping at the first error
func (r *Resolver) ExpandAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		expanded, err := r.Expand(ctx, *v)
		if err != nil {
			return err
		}
		*v = expanded
	}
	return nil
}

// Store saves value under ref
func (r *Resolver) Store(ctx context.Context, ref Ref, value string) error {
	p, err := r.provider(ref.Type)
	if err != nil {
		return err
	}
	return p.Store(ctx, ref, value)
}

// Delete removes the secret behind ref
func (r *Resolver) Delete(ctx context.Context, ref Ref) error {
	p, err := r.provider(ref.Type)
	if err != nil {
		return err
	}
	return p.Delete(ctx, ref)
}
