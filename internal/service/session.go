// Package service implements the session manager: the single entry point for
// registration, credential verification and the access/refresh token
// lifecycle. It composes the credential store, password hasher, token issuer
// and refresh-token registry, and maps every lower-level failure onto the
// package's error taxonomy.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vitalpoint/account-service/internal/config"
	"github.com/vitalpoint/account-service/internal/model"
	"github.com/vitalpoint/account-service/internal/queue"
	"github.com/vitalpoint/account-service/internal/repository"
	"github.com/vitalpoint/account-service/internal/token"
	"github.com/vitalpoint/account-service/internal/utils"
)

// UserStore is the credential-store surface the session manager needs.
// *repository.UserRepo satisfies it; tests substitute an in-memory fake.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, newHash string) error
	Deactivate(ctx context.Context, id uint64) error
	ReleaseInactiveIdentity(ctx context.Context, email, mobile string) (bool, error)
}

// TokenRegistry tracks live refresh tokens per user for rotation and
// revocation. *repository.TokenRepo satisfies it.
type TokenRegistry interface {
	Register(ctx context.Context, rec model.RefreshTokenRecord) error
	IsLive(ctx context.Context, jti string) (bool, error)
	Consume(ctx context.Context, jti string) error
	Revoke(ctx context.Context, jti string) error
	RevokeAll(ctx context.Context, userID uint64) (int64, error)
}

// EventPublisher receives audit events. Publishing is best effort; the
// session manager ignores its errors.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken    string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshExpires time.Time
}

// RegisterInput carries a registration request. Password is the only secret
// and is hashed before anything is persisted.
type RegisterInput struct {
	Name        string
	Gender      string
	DateOfBirth time.Time
	Mobile      string
	Email       string
	Password    string
	Address     string
	City        string

	BloodGroup    *string
	HeightCm      *float64
	WeightKg      *float64
	Diabetic      bool
	BloodPressure *string

	EmergencyContactName     *string
	EmergencyContactPhone    *string
	EmergencyContactRelation *string
	MedicalConditions        []string

	AllowNotifications bool
	AgreeToTerms       bool
	AgreeToPrivacy     bool
}

// Session orchestrates the per-(user, device) session state machine:
// Unauthenticated -> Authenticated -> Refreshed* -> Terminated. It holds no
// cross-request state; all mutual exclusion lives in the storage layer.
type Session struct {
	users      UserStore
	tokens     TokenRegistry
	issuer     *token.Issuer
	events     EventPublisher // may be nil
	policy     config.Policy
	timeout    time.Duration
	bcryptCost int
	log        *zap.Logger
}

func NewSession(users UserStore, tokens TokenRegistry, issuer *token.Issuer, events EventPublisher, cfg config.Config) *Session {
	return &Session{
		users:      users,
		tokens:     tokens,
		issuer:     issuer,
		events:     events,
		policy:     cfg.Policy,
		timeout:    cfg.StoreTimeout,
		bcryptCost: cfg.BcryptCost,
		log:        utils.Logger(),
	}
}

// Register creates a user. Uniqueness of email and mobile is decided inside
// the store's atomic insert; of two concurrent registrations with the same
// identity exactly one succeeds and the other gets a conflict. Under the
// AllowInactiveIdentityReuse policy a conflict with a soft-deleted holder
// releases that holder's identifiers and retries the insert once.
func (s *Session) Register(ctx context.Context, in RegisterInput) (model.User, error) {
	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{
		Name:                     in.Name,
		Gender:                   in.Gender,
		DateOfBirth:              in.DateOfBirth,
		Mobile:                   in.Mobile,
		Email:                    in.Email,
		Address:                  in.Address,
		City:                     in.City,
		PasswordHash:             hash,
		BloodGroup:               in.BloodGroup,
		HeightCm:                 in.HeightCm,
		WeightKg:                 in.WeightKg,
		Diabetic:                 in.Diabetic,
		BloodPressure:            in.BloodPressure,
		EmergencyContactName:     in.EmergencyContactName,
		EmergencyContactPhone:    in.EmergencyContactPhone,
		EmergencyContactRelation: in.EmergencyContactRelation,
		MedicalConditions:        in.MedicalConditions,
		AllowNotifications:       in.AllowNotifications,
		AgreeToTerms:             in.AgreeToTerms,
		AgreeToPrivacy:           in.AgreeToPrivacy,
	}
	tctx, cancel := s.opCtx(ctx)
	defer cancel()
	err = s.users.Create(tctx, &u)
	if isConflict(err) && s.policy.AllowInactiveIdentityReuse {
		released, rerr := s.users.ReleaseInactiveIdentity(tctx, u.Email, u.Mobile)
		if rerr != nil {
			return model.User{}, s.storeErr(rerr)
		}
		if released {
			s.log.Info("inactive identity released", zap.String("email", u.Email))
			err = s.users.Create(tctx, &u)
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailExists):
			return model.User{}, ErrConflictEmail
		case errors.Is(err, repository.ErrMobileExists):
			return model.User{}, ErrConflictMobile
		default:
			return model.User{}, s.storeErr(err)
		}
	}
	s.log.Info("user registered", zap.Uint64("user_id", u.ID))
	u.PasswordHash = ""
	return u, nil
}

// Login authenticates by email and password and opens a new session.
// Unknown email, wrong password and deactivated account all answer
// ErrInvalidCredentials, and the unknown-email path burns a bcrypt
// comparison so its timing matches the wrong-password path.
func (s *Session) Login(ctx context.Context, email, password, deviceContext string) (TokenPair, model.User, error) {
	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	u, err := s.users.GetByEmail(tctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.BurnPasswordCheck(password)
		return TokenPair{}, model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, model.User{}, s.storeErr(err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return TokenPair{}, model.User{}, ErrInvalidCredentials
	}

	pair, err := s.openSession(tctx, u.ID, deviceContext)
	if err != nil {
		return TokenPair{}, model.User{}, err
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventLogin, UserID: u.ID, DeviceContext: deviceContext, At: time.Now().UTC()})
	s.log.Info("login", zap.Uint64("user_id", u.ID))
	u.PasswordHash = ""
	return pair, u, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a
// brand-new pair is issued. Refresh tokens are single use; presenting one
// that was already rotated is a replay signal and, under the RevokeOnReuse
// policy, wipes every live session for the user.
func (s *Session) Refresh(ctx context.Context, rawRefresh, deviceContext string) (TokenPair, model.User, error) {
	claims, err := s.issuer.Verify(rawRefresh, token.Refresh)
	if err != nil {
		return TokenPair{}, model.User{}, ErrUnauthorized
	}

	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	switch err := s.tokens.Consume(tctx, claims.JTI); {
	case err == nil:
	case errors.Is(err, repository.ErrTokenReused):
		s.log.Warn("refresh token replayed", zap.Uint64("user_id", claims.UserID), zap.String("jti", claims.JTI))
		if s.policy.RevokeOnReuse {
			if _, rerr := s.tokens.RevokeAll(tctx, claims.UserID); rerr != nil {
				return TokenPair{}, model.User{}, s.storeErr(rerr)
			}
		}
		s.publish(ctx, queue.AuthEvent{Type: queue.EventReuseDetected, UserID: claims.UserID, DeviceContext: deviceContext, At: time.Now().UTC()})
		return TokenPair{}, model.User{}, ErrReuseDetected
	case errors.Is(err, repository.ErrTokenNotLive):
		return TokenPair{}, model.User{}, ErrUnauthorized
	default:
		return TokenPair{}, model.User{}, s.storeErr(err)
	}

	u, err := s.users.GetByID(tctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, model.User{}, ErrUnauthorized
	}
	if err != nil {
		return TokenPair{}, model.User{}, s.storeErr(err)
	}
	if !u.IsActive {
		return TokenPair{}, model.User{}, ErrUnauthorized
	}

	pair, err := s.openSession(tctx, u.ID, deviceContext)
	if err != nil {
		return TokenPair{}, model.User{}, err
	}
	u.PasswordHash = ""
	return pair, u, nil
}

// Logout terminates the session behind the presented refresh token. It is
// idempotent: an invalid, expired or already-revoked token is not an error.
// Access tokens already issued stay valid until their own short expiry.
func (s *Session) Logout(ctx context.Context, rawRefresh string) error {
	claims, err := s.issuer.Verify(rawRefresh, token.Refresh)
	if err != nil {
		return nil
	}
	tctx, cancel := s.opCtx(ctx)
	defer cancel()
	live, err := s.tokens.IsLive(tctx, claims.JTI)
	if err != nil {
		return s.storeErr(err)
	}
	if !live {
		return nil
	}
	if err := s.tokens.Revoke(tctx, claims.JTI); err != nil {
		return s.storeErr(err)
	}
	s.log.Info("logout", zap.Uint64("user_id", claims.UserID))
	return nil
}

// LogoutAll revokes every live refresh token for the user. The caller must
// already hold a valid access token for this user id; that precondition is
// enforced at the HTTP edge, not re-checked here.
func (s *Session) LogoutAll(ctx context.Context, userID uint64) error {
	tctx, cancel := s.opCtx(ctx)
	defer cancel()
	n, err := s.tokens.RevokeAll(tctx, userID)
	if err != nil {
		return s.storeErr(err)
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventLogoutAll, UserID: userID, At: time.Now().UTC()})
	s.log.Info("logout all", zap.Uint64("user_id", userID), zap.Int64("revoked", n))
	return nil
}

// ChangePassword verifies the old password, installs the new hash and, under
// the RevokeOnPasswordChange policy, forces re-authentication everywhere by
// revoking all outstanding refresh tokens.
func (s *Session) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error {
	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	u, err := s.users.GetByID(tctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return s.storeErr(err)
	}
	if !utils.VerifyPassword(u.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	hash, err := utils.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(tctx, userID, hash); err != nil {
		return s.storeErr(err)
	}
	if s.policy.RevokeOnPasswordChange {
		if _, err := s.tokens.RevokeAll(tctx, userID); err != nil {
			return s.storeErr(err)
		}
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventPasswordChanged, UserID: userID, At: time.Now().UTC()})
	s.log.Info("password changed", zap.Uint64("user_id", userID))
	return nil
}

// Deactivate soft-deletes the user and revokes their sessions. Idempotent
// for an already-inactive user; unknown ids report ErrNotFound. The email
// and mobile stay claimed unless the reuse policy says otherwise.
func (s *Session) Deactivate(ctx context.Context, userID uint64) error {
	tctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.users.Deactivate(tctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.storeErr(err)
	}
	if _, err := s.tokens.RevokeAll(tctx, userID); err != nil {
		return s.storeErr(err)
	}
	s.publish(ctx, queue.AuthEvent{Type: queue.EventDeactivated, UserID: userID, At: time.Now().UTC()})
	return nil
}

// openSession mints a token pair and registers the refresh half. Every call
// produces an independently revocable session, so concurrent logins from
// different devices never interfere.
func (s *Session) openSession(ctx context.Context, userID uint64, deviceContext string) (TokenPair, error) {
	access, accessExp, err := s.issuer.IssueAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, jti, refreshExp, err := s.issuer.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}
	rec := model.RefreshTokenRecord{
		JTI:           jti,
		UserID:        userID,
		IssuedAt:      time.Now().UTC(),
		ExpiresAt:     refreshExp,
		DeviceContext: deviceContext,
	}
	if err := s.tokens.Register(ctx, rec); err != nil {
		return TokenPair{}, s.storeErr(err)
	}
	return TokenPair{
		AccessToken:    access,
		AccessExpires:  accessExp,
		RefreshToken:   refresh,
		RefreshExpires: refreshExp,
	}, nil
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrEmailExists) || errors.Is(err, repository.ErrMobileExists)
}

func (s *Session) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storeErr maps a deadline overrun to ErrTimeout and passes everything else
// through untouched; raw driver errors stop at the handler as a 500.
func (s *Session) storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func (s *Session) publish(ctx context.Context, ev queue.AuthEvent) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, ev)
}
