// Package auth resolves login tokens to player ids. Tokens are issued
// by the account service and stored in the shared token table; the
// game server only validates them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jewelpark/poker3/internal/player"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the token store is unreachable.
	// Callers may choose to fail open (allow) or fail closed (reject).
	ErrUnavailable = errors.New("auth: unavailable")
)

// TokenStore is the persistence slice the validator needs.
type TokenStore interface {
	Identify(ctx context.Context, username, token string) (player.ID, error)
}

// Validator validates login credentials.
type Validator interface {
	// Validate checks a username/token pair.
	// Returns:
	//   - (id, nil) if the pair is valid
	//   - (0, ErrInvalidToken) if the pair is definitively invalid
	//   - (0, ErrUnavailable) if the token store is unreachable
	Validate(ctx context.Context, username, token string) (player.ID, error)
}

// StoreValidator checks credentials against the shared token table.
type StoreValidator struct {
	store    TokenStore
	notFound error
	timeout  time.Duration
}

// NewStoreValidator creates a validator backed by the token table.
// notFound is the store's missing-row sentinel, mapped to
// ErrInvalidToken.
func NewStoreValidator(store TokenStore, notFound error) *StoreValidator {
	return &StoreValidator{
		store:    store,
		notFound: notFound,
		timeout:  500 * time.Millisecond,
	}
}

func (v *StoreValidator) Validate(ctx context.Context, username, token string) (player.ID, error) {
	if username == "" || token == "" {
		return 0, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	id, err := v.store.Identify(ctx, username, token)
	switch {
	case err == nil:
		return id, nil
	case v.notFound != nil && errors.Is(err, v.notFound):
		return 0, ErrInvalidToken
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// NoopValidator accepts any non-empty credentials and treats the
// username as the player id (dev mode).
type NoopValidator struct{}

func NewNoopValidator() *NoopValidator {
	return &NoopValidator{}
}

func (v *NoopValidator) Validate(ctx context.Context, username, token string) (player.ID, error) {
	if username == "" {
		return 0, ErrInvalidToken
	}
	var id player.ID
	if _, err := fmt.Sscanf(username, "%d", &id); err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}
