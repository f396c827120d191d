// Package secret resolves ${type:name} references so credentials can live in
// the environment or the OS keyring instead of config files and shell history.
package secret

import (
	"context"
	"errors"
)

// Ref is a parsed ${type:name} reference
type Ref struct {
	Type     string // env or keyring
	Name     string // variable name or keyring entry
	Original string // text as written, including ${ and }
}

// Provider resolves references of one type
type Provider interface {
	// Resolve retrieves the secret value
	Resolve(ctx context.Context, ref Ref) (string, error)

	// Store saves a secret. Read-only providers return ErrReadOnly.
	Store(ctx context.Context, ref Ref, value string) error

	// Delete removes a secret. Read-only providers return ErrReadOnly.
	Delete(ctx context.Context, ref Ref) error
}

var (
	// ErrUnknownType is returned for references no provider handles
	ErrUnknownType = errors.New("unknown secret type")

	// ErrReadOnly is returned when storing into a read-only provider
	ErrReadOnly = errors.New("secret provider is read-only")

	// ErrNotFound is returned when a reference points at nothing
	ErrNotFound = errors.New("secret not found")
)
