package database

import (
	"context"
	"database/sql"
)

// The auth invariants live in this DDL: uniq_users_email and
// uniq_users_mobile make identity uniqueness a property of the insert, the
// AUTO_INCREMENT id is the shared monotonic user sequence, and
// refresh_tokens is keyed by jti so the signed token is never at rest.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		gender VARCHAR(32) NOT NULL DEFAULT '',
		date_of_birth DATETIME(6) NOT NULL,
		mobile VARCHAR(32) NOT NULL,
		email VARCHAR(255) NOT NULL,
		address VARCHAR(512) NOT NULL DEFAULT 'Not provided',
		city VARCHAR(128) NOT NULL DEFAULT 'Not provided',
		password_hash VARCHAR(255) NOT NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		blood_group VARCHAR(8) NULL,
		height_cm DOUBLE NULL,
		weight_kg DOUBLE NULL,
		diabetic TINYINT(1) NOT NULL DEFAULT 0,
		blood_pressure VARCHAR(32) NULL,
		emergency_contact_name VARCHAR(255) NULL,
		emergency_contact_phone VARCHAR(32) NULL,
		emergency_contact_relation VARCHAR(64) NULL,
		medical_conditions JSON NULL,
		allow_notifications TINYINT(1) NOT NULL DEFAULT 1,
		agree_to_terms TINYINT(1) NOT NULL DEFAULT 1,
		agree_to_privacy TINYINT(1) NOT NULL DEFAULT 1,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_users_email (email),
		UNIQUE KEY uniq_users_mobile (mobile)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		jti CHAR(36) NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		issued_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		revoked_at DATETIME(6) NULL,
		device_context VARCHAR(512) NOT NULL DEFAULT '',
		PRIMARY KEY (jti),
		KEY idx_refresh_tokens_user (user_id, revoked_at),
		KEY idx_refresh_tokens_expiry (expires_at),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
