// internal/auth/auth.go
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Identity is the resolved principal behind a session token.
type Identity struct {
	UserID      string
	DisplayName string
}

// ErrInvalidToken is returned by a Validator for tokens that are malformed,
// expired, or signed by an unknown key.
var ErrInvalidToken = errors.New("invalid session token")

// Validator maps an opaque session token to the identity it represents.
// Implementations must be idempotent and side effect free; the lobby engine
// calls Validate on every mutating operation.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// Static accepts tokens of the form "user:<id>" or "user:<id>:<name>".
// It backs AUTH_MODE=static for local development.
type Static struct{}

// Validate parses the token literally. The display name defaults to the id.
func (Static) Validate(_ context.Context, token string) (Identity, error) {
	rest, ok := strings.CutPrefix(token, "user:")
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	id, name, hasName := strings.Cut(rest, ":")
	if id == "" {
		return Identity{}, ErrInvalidToken
	}
	if !hasName || name == "" {
		name = id
	}
	return Identity{UserID: id, DisplayName: name}, nil
}

// TokenMap is a fixture Validator resolving tokens from a fixed table.
// Tests across the module use it to pin token-to-user mappings.
type TokenMap map[string]Identity

// Validate looks the token up in the table.
func (m TokenMap) Validate(_ context.Context, token string) (Identity, error) {
	id, ok := m[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// Fingerprint returns a short stable digest of a session token for logs and
// diagnostics. Raw tokens are never logged.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
