// Package auth resolves API keys to user identities. Session management is
// out of scope; the checkout core only needs a user id and role.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnknownKey is returned when no identity matches the presented key.
var ErrUnknownKey = errors.New("unknown api key")

// Identity is the authenticated caller.
type Identity struct {
	UserID  string
	Role    string
	KeyHash string
}

// Repository looks up identities by the HMAC-SHA256 hash of their API key.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Identity, error)
}
