package model

import "time"

// RefreshTokenRecord models a row in the `refresh_tokens` table. The signed
// token itself is never stored; rows are keyed by the token's `jti` claim,
// so a leaked table does not yield usable bearer credentials.
//
// RevokedAt is null while the token is live. It is set exactly once, by
// logout, rotation or a revoke-all sweep, and never cleared.
type RefreshTokenRecord struct {
	JTI           string     // refresh_tokens.jti (primary key)
	UserID        uint64     // refresh_tokens.user_id
	IssuedAt      time.Time  // refresh_tokens.issued_at
	ExpiresAt     time.Time  // refresh_tokens.expires_at
	RevokedAt     *time.Time // refresh_tokens.revoked_at (nullable)
	DeviceContext string     // refresh_tokens.device_context; audit only
}

// Live reports whether the record is accepted for refresh at the given
// instant: present, not revoked and not past expiry.
func (r RefreshTokenRecord) Live(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}
