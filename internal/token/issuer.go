// Package token mints and verifies the service's signed HS256 JWTs. Access
// and refresh tokens share one signing key but carry a `typ` discriminator,
// so one can never stand in for the other.
package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates access from refresh tokens via the `typ` claim.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

// Verification failures. The session layer collapses all of these to a
// generic unauthorized answer; the distinction exists for logging and tests.
var (
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("token malformed")
	ErrWrongType        = errors.New("token type mismatch")
	ErrInvalidSignature = errors.New("token signature invalid")
)

// Claims is the decoded, validated content of a token.
type Claims struct {
	UserID    uint64
	Kind      Kind
	JTI       string // set for refresh tokens only
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies token pairs with a shared secret and fixed TTLs.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssueAccess mints a short-lived access token for the user. Access tokens
// are never persisted; their validity is signature plus expiry, nothing else.
func (i *Issuer) IssueAccess(userID uint64) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.accessTTL)
	raw, err := i.sign(jwtClaims{
		Type: string(Access),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return raw, exp, err
}

// IssueRefresh mints a long-lived refresh token with a fresh jti. The jti is
// returned separately so the caller can register it with the token registry.
func (i *Issuer) IssueRefresh(userID uint64) (raw, jti string, exp time.Time, err error) {
	now := time.Now().UTC()
	exp = now.Add(i.refreshTTL)
	jti = uuid.NewString()
	raw, err = i.sign(jwtClaims{
		Type: string(Refresh),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return raw, jti, exp, err
}

func (i *Issuer) sign(c jwtClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

// Verify checks signature, expiry and the type discriminator; every caller
// gets all three checks, there is no partial mode. On success it returns the
// decoded claims.
func (i *Issuer) Verify(raw string, expected Kind) (Claims, error) {
	var c jwtClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		default:
			return Claims{}, ErrMalformed
		}
	}
	if c.Type != string(expected) {
		return Claims{}, ErrWrongType
	}
	userID, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || userID == 0 {
		return Claims{}, ErrMalformed
	}
	out := Claims{UserID: userID, Kind: Kind(c.Type), JTI: c.ID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
