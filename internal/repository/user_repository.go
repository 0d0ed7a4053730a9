package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/vitalpoint/account-service/internal/model"
)

// UserRepo is the credential store: it persists user records and enforces
// the email/mobile uniqueness and sequential-id invariants. Uniqueness is
// checked and inserted as one atomic statement via the table's unique
// indexes; the id sequence is the AUTO_INCREMENT primary key, shared by
// every service instance.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, name, gender, date_of_birth, mobile, email, address, city,
	password_hash, is_active, created_at, updated_at,
	blood_group, height_cm, weight_kg, diabetic, blood_pressure,
	emergency_contact_name, emergency_contact_phone, emergency_contact_relation,
	medical_conditions, allow_notifications, agree_to_terms, agree_to_privacy`

// Create inserts a user and fills in its assigned ID. A duplicate email or
// mobile surfaces as ErrEmailExists / ErrMobileExists; two concurrent
// creates for the same identity can never both succeed because the unique
// index decides inside the insert.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Mobile = strings.TrimSpace(u.Mobile)

	conditions, err := json.Marshal(u.MedicalConditions)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (name, gender, date_of_birth, mobile, email, address, city,
			password_hash, is_active,
			blood_group, height_cm, weight_kg, diabetic, blood_pressure,
			emergency_contact_name, emergency_contact_phone, emergency_contact_relation,
			medical_conditions, allow_notifications, agree_to_terms, agree_to_privacy)
		VALUES (?,?,?,?,?,?,?,?,1,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.Name, u.Gender, u.DateOfBirth, u.Mobile, u.Email, u.Address, u.City,
		u.PasswordHash,
		u.BloodGroup, u.HeightCm, u.WeightKg, u.Diabetic, u.BloodPressure,
		u.EmergencyContactName, u.EmergencyContactPhone, u.EmergencyContactRelation,
		string(conditions), u.AllowNotifications, u.AgreeToTerms, u.AgreeToPrivacy)
	if err != nil {
		if dup := duplicateKeyErr(err); dup != nil {
			return dup
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.IsActive = true
	return nil
}

// duplicateKeyErr maps a MySQL 1062 duplicate-entry error onto the sentinel
// for whichever unique index rejected the row. Returns nil for other errors.
func duplicateKeyErr(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != 1062 {
		return nil
	}
	switch {
	case strings.Contains(me.Message, "uniq_users_mobile"):
		return ErrMobileExists
	case strings.Contains(me.Message, "uniq_users_email"):
		return ErrEmailExists
	default:
		return ErrEmailExists
	}
}

// GetByEmail fetches an active user by normalized email. Inactive users are
// invisible here: authentication callers must not be able to tell a
// deactivated account apart from a missing one.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? AND is_active=1 LIMIT 1", email)
	return scanUser(row)
}

// GetByID fetches a user by id regardless of active state; callers that care
// about soft-delete check IsActive themselves.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// UpdatePassword replaces the stored hash. Revoking outstanding refresh
// tokens is the session manager's call, not this layer's.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, newHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE id=?", newHash, id)
	if err != nil {
		return err
	}
	return errIfMissing(ctx, r.DB, res, id)
}

// Deactivate soft-deletes a user. Deactivating an already-inactive user
// succeeds; an unknown id returns ErrNotFound.
func (r *UserRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=0 WHERE id=? AND is_active=1", id)
	if err != nil {
		return err
	}
	return errIfMissing(ctx, r.DB, res, id)
}

// ReleaseInactiveIdentity surrenders the email and mobile of any soft-deleted
// user holding either identifier, replacing both with a retired-<id>
// placeholder so a new registration can claim them. The single UPDATE keeps
// the release atomic against a concurrent reactivation; active rows are
// never touched. Reports whether any row was released.
func (r *UserRepo) ReleaseInactiveIdentity(ctx context.Context, email, mobile string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users
		    SET email = CONCAT('retired-', id), mobile = CONCAT('retired-', id)
		  WHERE is_active = 0 AND (email = ? OR mobile = ?)`,
		email, mobile)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateProfile applies the non-nil fields of upd. With nothing to change it
// is a no-op that still reports ErrNotFound for an unknown id.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, upd model.ProfileUpdate) error {
	sets := make([]string, 0, 10)
	args := make([]any, 0, 11)
	add := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Gender != nil {
		add("gender", *upd.Gender)
	}
	if upd.DateOfBirth != nil {
		add("date_of_birth", *upd.DateOfBirth)
	}
	if upd.Address != nil {
		add("address", *upd.Address)
	}
	if upd.City != nil {
		add("city", *upd.City)
	}
	if upd.BloodGroup != nil {
		add("blood_group", *upd.BloodGroup)
	}
	if upd.HeightCm != nil {
		add("height_cm", *upd.HeightCm)
	}
	if upd.WeightKg != nil {
		add("weight_kg", *upd.WeightKg)
	}
	if upd.Diabetic != nil {
		add("diabetic", *upd.Diabetic)
	}
	if upd.BloodPressure != nil {
		add("blood_pressure", *upd.BloodPressure)
	}
	if len(sets) == 0 {
		_, err := r.GetByID(ctx, id)
		return err
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if err != nil {
		return err
	}
	return errIfMissing(ctx, r.DB, res, id)
}

// List returns a page of users ordered by newest first, plus the total count
// of rows. Inactive users are included; this is an administrative view.
func (r *UserRepo) List(ctx context.Context, offset, limit int) ([]model.User, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users, err := collectUsers(rows)
	return users, total, err
}

// Search matches name, email, mobile or city against a substring query.
func (r *UserRepo) Search(ctx context.Context, query string, offset, limit int) ([]model.User, int, error) {
	pattern := "%" + strings.TrimSpace(query) + "%"
	where := "WHERE name LIKE ? OR email LIKE ? OR mobile LIKE ? OR city LIKE ?"
	var total int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users "+where,
		pattern, pattern, pattern, pattern).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users "+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		pattern, pattern, pattern, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users, err := collectUsers(rows)
	return users, total, err
}

// errIfMissing turns a zero-rows-affected update into ErrNotFound when the
// id does not exist at all. A row that exists but needed no change (for
// example deactivating an already-inactive user) stays a success.
func errIfMissing(ctx context.Context, db *sql.DB, res sql.Result, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=? LIMIT 1", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (model.User, error) {
	var (
		u          model.User
		bloodGroup sql.NullString
		heightCm   sql.NullFloat64
		weightKg   sql.NullFloat64
		bp         sql.NullString
		ecName     sql.NullString
		ecPhone    sql.NullString
		ecRelation sql.NullString
		conditions sql.NullString
	)
	err := row.Scan(&u.ID, &u.Name, &u.Gender, &u.DateOfBirth, &u.Mobile, &u.Email,
		&u.Address, &u.City, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
		&bloodGroup, &heightCm, &weightKg, &u.Diabetic, &bp,
		&ecName, &ecPhone, &ecRelation,
		&conditions, &u.AllowNotifications, &u.AgreeToTerms, &u.AgreeToPrivacy)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.BloodGroup = nullStr(bloodGroup)
	u.HeightCm = nullFloat(heightCm)
	u.WeightKg = nullFloat(weightKg)
	u.BloodPressure = nullStr(bp)
	u.EmergencyContactName = nullStr(ecName)
	u.EmergencyContactPhone = nullStr(ecPhone)
	u.EmergencyContactRelation = nullStr(ecRelation)
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &u.MedicalConditions); err != nil {
			return model.User{}, err
		}
	}
	return u, nil
}

func collectUsers(rows *sql.Rows) ([]model.User, error) {
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
