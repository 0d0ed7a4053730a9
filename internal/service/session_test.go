package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vitalpoint/account-service/internal/config"
	"github.com/vitalpoint/account-service/internal/model"
	"github.com/vitalpoint/account-service/internal/queue"
	"github.com/vitalpoint/account-service/internal/repository"
	"github.com/vitalpoint/account-service/internal/token"
)

// memUsers is an in-memory UserStore with the same linearizable semantics
// the MySQL repo gets from its unique indexes and AUTO_INCREMENT id.
type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[uint64]model.User{}} }

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.byID {
		if existing.Email == email {
			return repository.ErrEmailExists
		}
		if existing.Mobile == u.Mobile {
			return repository.ErrMobileExists
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.Email = email
	u.IsActive = true
	u.CreatedAt = time.Now().UTC()
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.byID {
		if u.Email == email && u.IsActive {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id uint64, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = newHash
	m.byID[id] = u
	return nil
}

func (m *memUsers) Deactivate(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = false
	m.byID[id] = u
	return nil
}

func (m *memUsers) ReleaseInactiveIdentity(_ context.Context, email, mobile string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	released := false
	for id, u := range m.byID {
		if u.IsActive || (u.Email != email && u.Mobile != mobile) {
			continue
		}
		u.Email = fmt.Sprintf("retired-%d", id)
		u.Mobile = u.Email
		m.byID[id] = u
		released = true
	}
	return released, nil
}

// memTokens mirrors the registry's conditional-update semantics under one
// mutex, so Consume is atomic the way the SQL UPDATE is.
type memTokens struct {
	mu   sync.Mutex
	recs map[string]model.RefreshTokenRecord
}

func newMemTokens() *memTokens { return &memTokens{recs: map[string]model.RefreshTokenRecord{}} }

func (m *memTokens) Register(_ context.Context, rec model.RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.JTI] = rec
	return nil
}

func (m *memTokens) IsLive(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	return ok && rec.Live(time.Now().UTC()), nil
}

func (m *memTokens) Consume(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	now := time.Now().UTC()
	if !ok || !now.Before(rec.ExpiresAt) {
		return repository.ErrTokenNotLive
	}
	if rec.RevokedAt != nil {
		return repository.ErrTokenReused
	}
	rec.RevokedAt = &now
	m.recs[jti] = rec
	return nil
}

func (m *memTokens) Revoke(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	if ok && rec.RevokedAt == nil {
		now := time.Now().UTC()
		rec.RevokedAt = &now
		m.recs[jti] = rec
	}
	return nil
}

func (m *memTokens) RevokeAll(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for jti, rec := range m.recs {
		if rec.UserID == userID && rec.RevokedAt == nil {
			rec.RevokedAt = &now
			m.recs[jti] = rec
			n++
		}
	}
	return n, nil
}

type capturedEvents struct {
	mu    sync.Mutex
	types []string
}

func (c *capturedEvents) Publish(_ context.Context, ev queue.AuthEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, ev.Type)
	return nil
}

func (c *capturedEvents) has(t string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.types {
		if v == t {
			return true
		}
	}
	return false
}

type env struct {
	sessions *Session
	users    *memUsers
	tokens   *memTokens
	issuer   *token.Issuer
	events   *capturedEvents
}

func newEnv(t *testing.T, policy config.Policy) *env {
	t.Helper()
	users := newMemUsers()
	tokens := newMemTokens()
	issuer := token.NewIssuer("test-secret", time.Hour, 24*time.Hour)
	events := &capturedEvents{}
	cfg := config.Config{
		BcryptCost:   4, // minimum cost keeps tests fast
		StoreTimeout: time.Second,
		Policy:       policy,
	}
	return &env{
		sessions: NewSession(users, tokens, issuer, events, cfg),
		users:    users,
		tokens:   tokens,
		issuer:   issuer,
		events:   events,
	}
}

func defaultPolicy() config.Policy {
	return config.Policy{RevokeOnReuse: true, RevokeOnPasswordChange: true}
}

func register(t *testing.T, e *env, email, mobile, password string) model.User {
	t.Helper()
	u, err := e.sessions.Register(context.Background(), RegisterInput{
		Name:        "Test User",
		Gender:      "other",
		DateOfBirth: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Mobile:      mobile,
		Email:       email,
		Password:    password,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	var last uint64
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		u := register(t, e, email, "m-"+email, "pw123456")
		if u.ID <= last {
			t.Fatalf("user id %d not greater than previous %d", u.ID, last)
		}
		if u.PasswordHash != "" {
			t.Error("password hash leaked from Register")
		}
		last = u.ID
	}
}

func TestRegisterConflicts(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	register(t, e, "dup@x.com", "111", "pw123456")

	_, err := e.sessions.Register(context.Background(), RegisterInput{
		Email: "dup@x.com", Mobile: "222", Password: "pw123456",
	})
	if !errors.Is(err, ErrConflictEmail) {
		t.Errorf("duplicate email: got %v, want ErrConflictEmail", err)
	}
	_, err = e.sessions.Register(context.Background(), RegisterInput{
		Email: "other@x.com", Mobile: "111", Password: "pw123456",
	})
	if !errors.Is(err, ErrConflictMobile) {
		t.Errorf("duplicate mobile: got %v, want ErrConflictMobile", err)
	}
}

func TestConcurrentRegisterSameEmail(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.sessions.Register(context.Background(), RegisterInput{
				Email:    "dup@x.com",
				Mobile:   "555" + strings.Repeat("0", i+1), // distinct mobiles
				Password: "pw123456",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, conflict int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflictEmail):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != n-1 {
		t.Errorf("got %d successes and %d conflicts, want 1 and %d", ok, conflict, n-1)
	}
}

func TestLoginIssuesLiveRefreshToken(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	u := register(t, e, "alice@x.com", "100", "pw123456")

	pair, summary, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "test-agent")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if summary.ID != u.ID || summary.PasswordHash != "" {
		t.Errorf("bad user summary: %+v", summary)
	}

	claims, err := e.issuer.Verify(pair.RefreshToken, token.Refresh)
	if err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}
	live, _ := e.tokens.IsLive(context.Background(), claims.JTI)
	if !live {
		t.Error("refresh token not live after login")
	}
	if _, err := e.issuer.Verify(pair.AccessToken, token.Access); err != nil {
		t.Errorf("access token does not verify: %v", err)
	}
	if !e.events.has(queue.EventLogin) {
		t.Error("login event not published")
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	register(t, e, "alice@x.com", "100", "pw123456")
	register(t, e, "gone@x.com", "101", "pw123456")
	deactivated, err := e.users.GetByEmail(context.Background(), "gone@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.sessions.Deactivate(context.Background(), deactivated.ID); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "nobody@x.com", "pw123456"},
		{"wrong password", "alice@x.com", "wrong"},
		{"deactivated user", "gone@x.com", "pw123456"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.sessions.Login(context.Background(), tc.email, tc.password, "")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("got %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestRefreshRotation(t *testing.T) {
	// Reuse-wipe off so the rotated pair survives the replayed original.
	e := newEnv(t, config.Policy{RevokeOnReuse: false, RevokeOnPasswordChange: true})
	register(t, e, "alice@x.com", "100", "pw123456")

	pair, _, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "")
	if err != nil {
		t.Fatal(err)
	}

	rotated, _, err := e.sessions.Refresh(context.Background(), pair.RefreshToken, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	// Replaying the consumed original must fail and never mint tokens.
	if _, _, err := e.sessions.Refresh(context.Background(), pair.RefreshToken, ""); !errors.Is(err, ErrReuseDetected) {
		t.Errorf("replay: got %v, want ErrReuseDetected", err)
	}

	// The pair from the rotation still works.
	if _, _, err := e.sessions.Refresh(context.Background(), rotated.RefreshToken, ""); err != nil {
		t.Errorf("rotated token rejected: %v", err)
	}
}

func TestRefreshReuseWipesSessionsUnderPolicy(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	register(t, e, "alice@x.com", "100", "pw123456")

	pairA, _, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "laptop")
	if err != nil {
		t.Fatal(err)
	}
	pairB, _, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "phone")
	if err != nil {
		t.Fatal(err)
	}

	rotated, _, err := e.sessions.Refresh(context.Background(), pairA.RefreshToken, "laptop")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.sessions.Refresh(context.Background(), pairA.RefreshToken, "attacker"); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("replay: got %v, want ErrReuseDetected", err)
	}

	// Every session for the user is gone, including the untouched device and
	// the freshly rotated one.
	for name, raw := range map[string]string{"rotated": rotated.RefreshToken, "other device": pairB.RefreshToken} {
		if _, _, err := e.sessions.Refresh(context.Background(), raw, ""); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s token after wipe: got %v, want ErrUnauthorized", name, err)
		}
	}
	if !e.events.has(queue.EventReuseDetected) {
		t.Error("reuse event not published")
	}
}

func TestConcurrentRefreshSingleUse(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	register(t, e, "alice@x.com", "100", "pw123456")
	pair, _, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "")
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.sessions.Refresh(context.Background(), pair.RefreshToken, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrReuseDetected), errors.Is(err, ErrUnauthorized):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d concurrent refreshes succeeded, want exactly 1", ok)
	}
}

func TestLogoutRevokesExactlyOneSession(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	register(t, e, "alice@x.com", "100", "pw123456")
	pairA, _, _ := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "laptop")
	pairB, _, _ := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "phone")

	if err := e.sessions.Logout(context.Background(), pairA.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := e.sessions.Refresh(context.Background(), pairA.RefreshToken, ""); err == nil {
		t.Error("logged-out token still refreshes")
	}
	if _, _, err := e.sessions.Refresh(context.Background(), pairB.RefreshToken, ""); err != nil {
		t.Errorf("unrelated session broken by logout: %v", err)
	}

	// Idempotent, and garbage input is not an error either.
	if err := e.sessions.Logout(context.Background(), pairA.RefreshToken); err != nil {
		t.Errorf("second logout: %v", err)
	}
	if err := e.sessions.Logout(context.Background(), "not-a-token"); err != nil {
		t.Errorf("garbage logout: %v", err)
	}

	// Access tokens issued under the revoked session ride out their own TTL.
	if _, err := e.issuer.Verify(pairA.AccessToken, token.Access); err != nil {
		t.Errorf("access token invalid after logout: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	u := register(t, e, "alice@x.com", "100", "pw123456")

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		pair, _, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "")
		if err != nil {
			t.Fatal(err)
		}
		pairs = append(pairs, pair)
	}
	if err := e.sessions.LogoutAll(context.Background(), u.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for i, pair := range pairs {
		claims, _ := e.issuer.Verify(pair.RefreshToken, token.Refresh)
		if live, _ := e.tokens.IsLive(context.Background(), claims.JTI); live {
			t.Errorf("session %d still live after LogoutAll", i)
		}
	}
	if !e.events.has(queue.EventLogoutAll) {
		t.Error("logout_all event not published")
	}
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	u := register(t, e, "alice@x.com", "100", "old-pass")
	pair, _, _ := e.sessions.Login(context.Background(), "alice@x.com", "old-pass", "")

	if err := e.sessions.ChangePassword(context.Background(), u.ID, "wrong", "new-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong old password: got %v, want ErrInvalidCredentials", err)
	}
	if err := e.sessions.ChangePassword(context.Background(), 9999, "old-pass", "new-pass"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: got %v, want ErrNotFound", err)
	}

	if err := e.sessions.ChangePassword(context.Background(), u.ID, "old-pass", "new-pass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := e.sessions.Login(context.Background(), "alice@x.com", "old-pass", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted")
	}
	if _, _, err := e.sessions.Login(context.Background(), "alice@x.com", "new-pass", ""); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	// RevokeOnPasswordChange forces other devices to re-authenticate.
	if _, _, err := e.sessions.Refresh(context.Background(), pair.RefreshToken, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("pre-change session survived: %v", err)
	}
	if !e.events.has(queue.EventPasswordChanged) {
		t.Error("password_changed event not published")
	}
}

func TestChangePasswordKeepsSessionsWhenPolicyOff(t *testing.T) {
	e := newEnv(t, config.Policy{RevokeOnReuse: true, RevokeOnPasswordChange: false})
	u := register(t, e, "alice@x.com", "100", "old-pass")
	pair, _, _ := e.sessions.Login(context.Background(), "alice@x.com", "old-pass", "")

	if err := e.sessions.ChangePassword(context.Background(), u.ID, "old-pass", "new-pass"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.sessions.Refresh(context.Background(), pair.RefreshToken, ""); err != nil {
		t.Errorf("session revoked despite policy off: %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	u := register(t, e, "alice@x.com", "100", "pw123456")
	pair, _, _ := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", "")

	if err := e.sessions.Deactivate(context.Background(), u.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	// Idempotent on an already-inactive user, ErrNotFound on unknown ids.
	if err := e.sessions.Deactivate(context.Background(), u.ID); err != nil {
		t.Errorf("second Deactivate: %v", err)
	}
	if err := e.sessions.Deactivate(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: got %v, want ErrNotFound", err)
	}

	if _, _, err := e.sessions.Login(context.Background(), "alice@x.com", "pw123456", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("deactivated login: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := e.sessions.Refresh(context.Background(), pair.RefreshToken, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("deactivated refresh: got %v, want ErrUnauthorized", err)
	}

	// Identity stays claimed: soft delete does not free the email or mobile.
	_, err := e.sessions.Register(context.Background(), RegisterInput{
		Email: "alice@x.com", Mobile: "999", Password: "pw123456",
	})
	if !errors.Is(err, ErrConflictEmail) {
		t.Errorf("re-register deactivated email: got %v, want ErrConflictEmail", err)
	}
}

func TestRegisterReusesInactiveIdentityUnderPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowInactiveIdentityReuse = true
	e := newEnv(t, policy)

	old := register(t, e, "reuse@x.com", "700", "pw123456")
	if err := e.sessions.Deactivate(context.Background(), old.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	nu := register(t, e, "reuse@x.com", "700", "pw-fresh-1")
	if nu.ID <= old.ID {
		t.Errorf("reused identity got id %d, want greater than %d", nu.ID, old.ID)
	}

	// The retired account keeps its row but surrenders the identifiers.
	got, err := e.users.GetByID(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("GetByID(old): %v", err)
	}
	if got.Email == "reuse@x.com" || got.Mobile == "700" {
		t.Errorf("retired account still holds identifiers: %q %q", got.Email, got.Mobile)
	}

	// The new owner can log in with the reclaimed email.
	if _, u, err := e.sessions.Login(context.Background(), "reuse@x.com", "pw-fresh-1", ""); err != nil {
		t.Errorf("login as new owner: %v", err)
	} else if u.ID != nu.ID {
		t.Errorf("login resolved to user %d, want %d", u.ID, nu.ID)
	}
}

func TestRegisterNeverReleasesActiveIdentity(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowInactiveIdentityReuse = true
	e := newEnv(t, policy)
	register(t, e, "held@x.com", "701", "pw123456")

	_, err := e.sessions.Register(context.Background(), RegisterInput{
		Email: "held@x.com", Mobile: "702", Password: "pw123456",
	})
	if !errors.Is(err, ErrConflictEmail) {
		t.Errorf("active identity: got %v, want ErrConflictEmail", err)
	}
	if _, err := e.users.GetByEmail(context.Background(), "held@x.com"); err != nil {
		t.Errorf("active account lost its email: %v", err)
	}
}

// timeoutUsers and timeoutTokens simulate a store that exhausts its
// per-operation deadline.
type timeoutUsers struct{ *memUsers }

func (timeoutUsers) GetByEmail(context.Context, string) (model.User, error) {
	return model.User{}, context.DeadlineExceeded
}

type timeoutTokens struct{ *memTokens }

func (timeoutTokens) Consume(context.Context, string) error {
	return context.DeadlineExceeded
}

func TestStoreTimeoutSurfacesErrTimeout(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	register(t, e, "slow@x.com", "800", "pw123456")
	pair, _, err := e.sessions.Login(context.Background(), "slow@x.com", "pw123456", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	cfg := config.Config{BcryptCost: 4, StoreTimeout: time.Second, Policy: defaultPolicy()}
	slow := NewSession(timeoutUsers{e.users}, timeoutTokens{e.tokens}, e.issuer, e.events, cfg)

	if _, _, err := slow.Login(context.Background(), "slow@x.com", "pw123456", ""); !errors.Is(err, ErrTimeout) {
		t.Errorf("Login against timed-out store: got %v, want ErrTimeout", err)
	}
	if _, _, err := slow.Refresh(context.Background(), pair.RefreshToken, ""); !errors.Is(err, ErrTimeout) {
		t.Errorf("Refresh against timed-out store: got %v, want ErrTimeout", err)
	}
}
