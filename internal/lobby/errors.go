// internal/lobby/errors.go
package lobby

import "errors"

// Error kinds surfaced by engine operations. Handlers map these to status
// codes with errors.Is; wrapped variants carry detail.
var (
	// ErrInvalid indicates malformed input: an empty or oversize identifier,
	// a nil game id, or a missing property key.
	ErrInvalid = errors.New("invalid argument")

	// ErrUnauthorized indicates the session token failed validation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an owner-gated operation by a non-owner.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound covers scope, membership, capacity, and lifecycle
	// mismatches: missing lobby, wrong game, full, or already started.
	ErrNotFound = errors.New("lobby not found")

	// ErrConflict indicates the operation lost to current state: the
	// property cap is reached, the lobby already started, or the token is
	// already bound to another lobby in the same game.
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an unexpected failure.
	ErrInternal = errors.New("internal error")
)
