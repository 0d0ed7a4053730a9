package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vitalpoint/account-service/internal/model"
)

// TokenRepo is the refresh-token registry. Rows are keyed by the token's jti
// claim; the signed token never touches the table. All single-use and
// revoke-all semantics are expressed as conditional UPDATEs so correctness
// holds across concurrent requests and service instances, with no in-process
// locks.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Register records a freshly issued refresh token as live.
func (r *TokenRepo) Register(ctx context.Context, rec model.RefreshTokenRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO refresh_tokens (jti, user_id, issued_at, expires_at, device_context)
		 VALUES (?,?,?,?,?)`,
		rec.JTI, rec.UserID, rec.IssuedAt, rec.ExpiresAt, rec.DeviceContext)
	return err
}

// IsLive reports whether the jti exists, is not revoked and is not expired.
func (r *TokenRepo) IsLive(ctx context.Context, jti string) (bool, error) {
	var (
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT expires_at, revoked_at FROM refresh_tokens WHERE jti=? LIMIT 1",
		jti).Scan(&expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !revokedAt.Valid && time.Now().UTC().Before(expiresAt), nil
}

// Consume atomically claims a single-use token: the conditional UPDATE flips
// revoked_at only if the row is still live, so of two concurrent refreshes
// presenting the same jti at most one sees success. When the claim misses,
// a follow-up read tells a replay (row already revoked -> ErrTokenReused)
// apart from an unknown or expired token (ErrTokenNotLive).
func (r *TokenRepo) Consume(ctx context.Context, jti string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW(6) WHERE jti=? AND revoked_at IS NULL AND expires_at > NOW(6)",
		jti)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var (
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err = r.DB.QueryRowContext(ctx,
		"SELECT expires_at, revoked_at FROM refresh_tokens WHERE jti=? LIMIT 1",
		jti).Scan(&expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return ErrTokenNotLive
	}
	if err != nil {
		return err
	}
	if revokedAt.Valid && time.Now().UTC().Before(expiresAt) {
		return ErrTokenReused
	}
	return ErrTokenNotLive
}

// Revoke marks a token revoked. Revoking an already-revoked or unknown jti
// is a no-op success.
func (r *TokenRepo) Revoke(ctx context.Context, jti string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW(6) WHERE jti=? AND revoked_at IS NULL",
		jti)
	return err
}

// RevokeAll revokes every live token for a user in one statement and returns
// how many were hit. A Register racing this UPDATE either commits its row
// first (and gets revoked here) or after (and stays live); no row can end up
// half-forgotten.
func (r *TokenRepo) RevokeAll(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=NOW(6) WHERE user_id=? AND revoked_at IS NULL",
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired garbage-collects rows whose expiry is older than the
// retention window. Revoked-but-unexpired rows are kept so replay of a
// rotated token keeps reporting reuse until the token would have expired.
func (r *TokenRepo) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
