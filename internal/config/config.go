// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"time"
)

// Config holds all runtime configuration. Strings for identifiers and
// secrets, ints for TTLs and costs, matching how the values are consumed.
type Config struct {
	Env  string // application environment (dev/test/prod)
	Port string // HTTP port to listen on

	DBUser string
	DBPass string // optional
	DBHost string
	DBPort string
	DBName string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	StoreTimeout    time.Duration // upper bound on any single persistence call
	TokenRetention  time.Duration // how long expired refresh rows are kept before GC
	TokenGCInterval time.Duration // how often the GC sweep runs; 0 disables

	LogLevel string

	Policy Policy
}

// Policy collects the behaviors the product documentation recommends but
// leaves to deployment: they default on and can be switched off per env.
type Policy struct {
	// RevokeOnReuse wipes every live session for a user when a rotated
	// refresh token is replayed.
	RevokeOnReuse bool
	// RevokeOnPasswordChange forces re-login on other devices after a
	// password change.
	RevokeOnPasswordChange bool
	// AllowInactiveIdentityReuse lets a new registration claim the email or
	// mobile of a soft-deleted account. Off by default: identifiers stay
	// blocked after deactivation.
	AllowInactiveIdentityReuse bool
}

// Load reads configuration from environment variables. Required variables
// are enforced by must() and missing values halt startup with a fatal log.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),

		DBMaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: envDur("DB_CONN_MAX_LIFETIME", 15*time.Minute),

		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   envInt("ACCESS_TOKEN_TTL_MIN", 60),
		RefreshTTLDays: envInt("REFRESH_TOKEN_TTL_DAYS", 30),
		BcryptCost:     envInt("BCRYPT_COST", 12),

		StoreTimeout:    envDur("STORE_TIMEOUT", 5*time.Second),
		TokenRetention:  envDur("TOKEN_RETENTION", 7*24*time.Hour),
		TokenGCInterval: envDur("TOKEN_GC_INTERVAL", time.Hour),

		LogLevel: envStr("LOG_LEVEL", "info"),

		Policy: Policy{
			RevokeOnReuse:              envBool("REVOKE_ON_REUSE", true),
			RevokeOnPasswordChange:     envBool("REVOKE_ON_PASSWORD_CHANGE", true),
			AllowInactiveIdentityReuse: envBool("ALLOW_INACTIVE_IDENTITY_REUSE", false),
		},
	}
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
