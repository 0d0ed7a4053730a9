package model

import "time"

// User mirrors the `users` table. Profile and health attributes are owned by
// this record and have no bearing on authentication; only Email, Mobile,
// PasswordHash and IsActive participate in auth decisions.
//
// Optional columns are modelled as pointers so the repository can
// distinguish "not provided" from a zero value.
type User struct {
	ID           uint64    // users.id (AUTO_INCREMENT, never reused)
	Name         string    // users.name
	Gender       string    // users.gender
	DateOfBirth  time.Time // users.date_of_birth
	Mobile       string    // users.mobile (unique)
	Email        string    // users.email (unique)
	Address      string    // users.address
	City         string    // users.city
	PasswordHash string    // users.password_hash, bcrypt
	IsActive     bool      // users.is_active; false after soft delete
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at

	BloodGroup    *string  // users.blood_group
	HeightCm      *float64 // users.height_cm
	WeightKg      *float64 // users.weight_kg
	Diabetic      bool     // users.diabetic
	BloodPressure *string  // users.blood_pressure

	EmergencyContactName     *string  // users.emergency_contact_name
	EmergencyContactPhone    *string  // users.emergency_contact_phone
	EmergencyContactRelation *string  // users.emergency_contact_relation
	MedicalConditions        []string // users.medical_conditions (JSON column)

	AllowNotifications bool // users.allow_notifications
	AgreeToTerms       bool // users.agree_to_terms
	AgreeToPrivacy     bool // users.agree_to_privacy
}

// ProfileUpdate carries the mutable profile fields for a partial update.
// Nil fields are left untouched. Identity fields (email, mobile) and the
// password hash are deliberately absent; they have dedicated operations.
type ProfileUpdate struct {
	Name          *string
	Gender        *string
	DateOfBirth   *time.Time
	Address       *string
	City          *string
	BloodGroup    *string
	HeightCm      *float64
	WeightKg      *float64
	Diabetic      *bool
	BloodPressure *string
}
