package service

import "errors"

// The session manager's error taxonomy. Handlers translate these to HTTP
// statuses; nothing below this layer (driver text, token sub-errors) ever
// reaches a caller.
var (
	// ErrConflictEmail / ErrConflictMobile: registration lost the
	// uniqueness race or the identity is already taken.
	ErrConflictEmail  = errors.New("email already registered")
	ErrConflictMobile = errors.New("mobile already registered")

	// ErrInvalidCredentials covers unknown email, wrong password and
	// deactivated account alike; the three are indistinguishable on purpose.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized covers every bad-token condition: malformed, expired,
	// wrong type, bad signature, unknown or revoked registry entry.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReuseDetected flags replay of an already-rotated refresh token.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrNotFound reports an unknown user id on administrative operations.
	ErrNotFound = errors.New("user not found")

	// ErrTimeout reports that a persistence call exceeded its deadline; the
	// operation may or may not have taken effect.
	ErrTimeout = errors.New("persistence timeout")
)
