// Package auth provides auth-token providers for the connection handshake.
//
// A provider is called once per connection attempt; its token is sent in
// the connection_init payload under "authorization".
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Errors
var (
	ErrEmptyToken  = errors.New("auth token is empty")
	ErrMissingEnv  = errors.New("auth token environment variable is not set")
	ErrMissingKey  = errors.New("API key ID is required")
	ErrMissingPath = errors.New("private key path is required")
)

// TokenProvider resolves the current auth token. It may block, e.g. on a
// network call, and should honor ctx.
type TokenProvider func(ctx context.Context) (string, error)

// Static returns a provider that always yields token.
func Static(token string) TokenProvider {
	return func(context.Context) (string, error) {
		if strings.TrimSpace(token) == "" {
			return "", ErrEmptyToken
		}
		return token, nil
	}
}

// FromEnv returns a provider reading the environment variable name on
// every call, so rotated tokens are picked up on reconnect.
func FromEnv(name string) TokenProvider {
	return func(context.Context) (string, error) {
		token, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingEnv, name)
		}
		if strings.TrimSpace(token) == "" {
			return "", ErrEmptyToken
		}
		return token, nil
	}
}

// Shared collapses concurrent calls to p into one in-flight resolution.
func Shared(p TokenProvider) TokenProvider {
	var group singleflight.Group
	return func(ctx context.Context) (string, error) {
		v, err, _ := group.Do("token", func() (any, error) {
			return p(ctx)
		})
		if err != nil {
			return "", err
		}
		return v.(string), nil
	}
}
