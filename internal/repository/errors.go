// Package repository defines error values shared by the persistence layer.
// These sentinels let the service layer react to specific outcomes (a
// uniqueness collision, a consumed token) without parsing driver errors.
package repository

import "errors"

// ErrEmailExists is returned by UserRepo.Create when the email column's
// unique index rejects the insert.
var ErrEmailExists = errors.New("email already exists")

// ErrMobileExists is returned by UserRepo.Create when the mobile column's
// unique index rejects the insert.
var ErrMobileExists = errors.New("mobile already exists")

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrTokenNotLive is returned by TokenRepo.Consume when the presented jti is
// unknown or past expiry. Callers treat it as a plain authorization failure.
var ErrTokenNotLive = errors.New("refresh token not live")

// ErrTokenReused is returned by TokenRepo.Consume when the row exists but was
// already revoked: a single-use token presented twice. Callers treat this as
// a replay signal, not a routine failure.
var ErrTokenReused = errors.New("refresh token already consumed")
