package authcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brightbooks/authcore/audit"
	"github.com/brightbooks/authcore/password"
	"github.com/brightbooks/authcore/twofactor"
)

// mockCredentialStore is an in-memory CredentialStore for tests.
type mockCredentialStore struct {
	mu      sync.Mutex
	byID    map[string]*Credential
	byEmail map[string]string
}

func newMockStore() *mockCredentialStore {
	return &mockCredentialStore{
		byID:    make(map[string]*Credential),
		byEmail: make(map[string]string),
	}
}

func (m *mockCredentialStore) add(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cred
	m.byID[c.ID] = &c
	m.byEmail[c.Email] = c.ID
}

func (m *mockCredentialStore) get(id string) Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *mockCredentialStore) FindByEmail(_ context.Context, email string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return *m.byID[id], nil
}

func (m *mockCredentialStore) FindByID(_ context.Context, id string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byID[id]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return *cred, nil
}

func (m *mockCredentialStore) UpdateFailedAttempts(_ context.Context, id string, failed int, last time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byID[id]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.FailedAttempts = failed
	cred.LastFailedAt = last
	return nil
}

func (m *mockCredentialStore) IncrementTokenVersion(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byID[id]
	if !ok {
		return 0, ErrCredentialNotFound
	}
	cred.TokenVersion++
	return cred.TokenVersion, nil
}

func (m *mockCredentialStore) SetTwoFactorSecret(_ context.Context, id string, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byID[id]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.TwoFactorSecret = secret
	cred.TwoFactorEnabled = secret != ""
	return nil
}

func (m *mockCredentialStore) setTokenVersion(id string, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].TokenVersion = version
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.AccessSecret = []byte("access-secret-0123456789abcdefgh")
	cfg.Tokens.RefreshSecret = []byte("refresh-secret-0123456789abcdefg")
	cfg.Tokens.ChallengeSecret = []byte("challenge-secret-0123456789abcde")
	cfg.Tokens.Leeway = 0
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func newTestService(t *testing.T, cfg Config) (*Service, *mockCredentialStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMockStore()
	svc, err := New(cfg, rdb, store, audit.NoOpSink{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(svc.Close)

	return svc, store, mr
}

func seedUser(t *testing.T, svc *Service, store *mockCredentialStore, id, email, plaintext string) {
	t.Helper()

	hash, err := svc.HashPassword(plaintext)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	store.add(Credential{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         "member",
	})
}

// waitForEvents polls the event log until at least want matching events are
// visible. The dispatcher writes asynchronously, so tests that depend on
// recorded events must synchronize here first.
func waitForEvents(t *testing.T, svc *Service, f audit.Filter, want int64) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		count, err := svc.EventLog().CountSince(context.Background(), f, time.Hour)
		if err == nil && count >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events matching %+v", want, f)
}

func TestLoginSuccess(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")

	ctx := WithClientIP(WithUserAgent(context.Background(), "test-agent"), "203.0.113.7")
	result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("token pair not minted")
	}
	if result.TwoFactorRequired || result.ChallengeToken != "" {
		t.Fatalf("unexpected two-factor fields: %+v", result)
	}

	claims, err := svc.VerifyAccess(result.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "alice@example.com" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionID == "" {
		t.Fatal("access token missing session id")
	}

	sessions, err := svc.ListSessions(ctx, "u1", claims.SessionID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].IsCurrent {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].IP != "203.0.113.7" || sessions[0].UserAgent != "test-agent" {
		t.Fatalf("session missing request context: %+v", sessions[0])
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	_, unknownErr := svc.Login(ctx, "nobody@example.com", "whatever")
	_, wrongErr := svc.Login(ctx, "alice@example.com", "not-the-password")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatal("unknown email and wrong password produce distinguishable errors")
	}

	if _, err := svc.Login(ctx, "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty input: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	cred := store.get("u1")
	cred.Disabled = true
	store.add(cred)

	ctx := context.Background()

	if _, err := svc.Login(ctx, "alice@example.com", "hunter2!"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	// Without the password the account state stays hidden.
	if _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc, store, mr := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	// The first five wrong attempts all report invalid credentials; the
	// fifth is the one that trips the lock.
	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, "alice@example.com", "wrong")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if got := store.get("u1").FailedAttempts; got != 5 {
		t.Fatalf("mirror counter: expected 5, got %d", got)
	}

	// From the sixth attempt on, even the correct password is rejected.
	_, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	var lockErr *LockoutError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockoutError, got %T", err)
	}
	if lockErr.RemainingSeconds < 1 || lockErr.RemainingSeconds > 15*60 {
		t.Fatalf("implausible remaining seconds: %d", lockErr.RemainingSeconds)
	}

	// The trip itself is recorded at critical severity, once.
	waitForEvents(t, svc, audit.Filter{IdentityID: "u1"}, 1)

	// Once the window elapses the lock lifts and a success resets the
	// counter.
	mr.FastForward(16 * time.Minute)

	if _, err := svc.Login(ctx, "alice@example.com", "hunter2!"); err != nil {
		t.Fatalf("login after window failed: %v", err)
	}
	if got := store.get("u1").FailedAttempts; got != 0 {
		t.Fatalf("mirror counter not reset: %d", got)
	}
}

func TestTwoFactorSetupAndLogin(t *testing.T) {
	cfg := testConfig()
	svc, store, _ := newTestService(t, cfg)
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	codes := twofactor.New(twofactor.Config{
		Issuer: cfg.TwoFactor.Issuer,
		Period: cfg.TwoFactor.Period,
		Skew:   cfg.TwoFactor.Skew,
	})

	// Enrollment: the secret is not committed until the caller proves
	// possession.
	setup, err := svc.BeginTwoFactorSetup(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	if setup.Secret == "" || setup.ChallengeToken == "" || setup.ProvisioningURI == "" {
		t.Fatalf("incomplete setup: %+v", setup)
	}
	if store.get("u1").TwoFactorEnabled {
		t.Fatal("secret committed before confirmation")
	}

	if err := svc.ConfirmTwoFactorSetup(ctx, setup.ChallengeToken, "000000"); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("wrong setup code: expected ErrInvalidTwoFactorCode, got %v", err)
	}

	code, err := codes.Code(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if err := svc.ConfirmTwoFactorSetup(ctx, setup.ChallengeToken, code); err != nil {
		t.Fatalf("ConfirmTwoFactorSetup failed: %v", err)
	}
	if cred := store.get("u1"); !cred.TwoFactorEnabled || cred.TwoFactorSecret != setup.Secret {
		t.Fatalf("secret not committed: %+v", cred)
	}

	// Login now stops at the challenge instead of minting tokens.
	result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.TwoFactorRequired || result.ChallengeToken == "" {
		t.Fatalf("expected two-factor challenge, got %+v", result)
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("tokens minted before second factor")
	}

	// A wrong code yields no tokens and counts as a failure.
	if _, err := svc.VerifyTwoFactor(ctx, result.ChallengeToken, "000000"); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}
	if got := store.get("u1").FailedAttempts; got != 1 {
		t.Fatalf("wrong code not counted: %d", got)
	}

	code, err = codes.Code(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	pair, err := svc.VerifyTwoFactor(ctx, result.ChallengeToken, code)
	if err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair not minted after second factor")
	}
	if got := store.get("u1").FailedAttempts; got != 0 {
		t.Fatalf("counter not reset after success: %d", got)
	}

	// The setup challenge never works as a login challenge.
	if _, err := svc.VerifyTwoFactor(ctx, setup.ChallengeToken, code); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("setup challenge accepted for login: %v", err)
	}
}

func TestTwoFactorChallengeExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Tokens.LoginChallengeTTL = time.Millisecond
	svc, store, _ := newTestService(t, cfg)
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	if err := store.SetTwoFactorSecret(ctx, "u1", "JBSWY3DPEHPK3PXP"); err != nil {
		t.Fatalf("SetTwoFactorSecret failed: %v", err)
	}

	result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Expiry claims are second-granular on the wire.
	time.Sleep(1100 * time.Millisecond)

	if _, err := svc.VerifyTwoFactor(ctx, result.ChallengeToken, "000000"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	access, err := svc.Refresh(ctx, result.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	claims, err := svc.VerifyAccess(access)
	if err != nil {
		t.Fatalf("refreshed access token invalid: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	// Garbage and wrong-family tokens are rejected outright.
	if _, err := svc.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := svc.Refresh(ctx, result.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestRefreshRejectedAfterVersionBump(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	store.setTokenVersion("u1", 7)

	if _, err := svc.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("stale-version token accepted: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	var refresh string
	for i := 0; i < 3; i++ {
		result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
		if err != nil {
			t.Fatalf("Login %d failed: %v", i, err)
		}
		refresh = result.RefreshToken
	}

	if err := svc.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	// Every outstanding refresh token is dead and no sessions remain.
	if _, err := svc.Refresh(ctx, refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token survived LogoutAll: %v", err)
	}
	sessions, err := svc.ListSessions(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions survived LogoutAll: %d", len(sessions))
	}

	// Logging in again works immediately at the new version.
	result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("login after LogoutAll failed: %v", err)
	}
	if _, err := svc.Refresh(ctx, result.RefreshToken); err != nil {
		t.Fatalf("refresh after re-login failed: %v", err)
	}
}

func TestSessionCap(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")
	ctx := context.Background()

	var last *LoginResult
	for i := 0; i < 6; i++ {
		result, err := svc.Login(ctx, "alice@example.com", "hunter2!")
		if err != nil {
			t.Fatalf("Login %d failed: %v", i, err)
		}
		last = result
		// Session creation timestamps are millisecond-granular; keep them
		// strictly ordered so eviction picks a deterministic oldest.
		time.Sleep(2 * time.Millisecond)
	}

	claims, err := svc.VerifyAccess(last.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}

	sessions, err := svc.ListSessions(ctx, "u1", claims.SessionID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 5 {
		t.Fatalf("expected 5 live sessions, got %d", len(sessions))
	}
	if !sessions[0].IsCurrent {
		t.Fatal("newest session not marked current")
	}
	for _, info := range sessions[1:] {
		if info.IsCurrent {
			t.Fatalf("stale session marked current: %+v", info)
		}
	}
}

func TestSuspiciousActivityThrottlesIP(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	seedUser(t, svc, store, "u1", "alice@example.com", "hunter2!")

	attacker := WithClientIP(context.Background(), "198.51.100.9")

	// Unknown emails keep identity lockout out of the picture; only the
	// per-IP failed-login criterion accumulates.
	for i := 0; i < 11; i++ {
		email := fmt.Sprintf("guess-%d@example.com", i)
		if _, err := svc.Login(attacker, email, "password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	waitForEvents(t, svc, audit.Filter{IP: "198.51.100.9"}, 11)

	// The hot address is now refused before any credential work, even with
	// valid credentials.
	if _, err := svc.Login(attacker, "alice@example.com", "hunter2!"); !errors.Is(err, ErrSuspiciousActivity) {
		t.Fatalf("expected ErrSuspiciousActivity, got %v", err)
	}

	// Other addresses are unaffected.
	other := WithClientIP(context.Background(), "203.0.113.50")
	if _, err := svc.Login(other, "alice@example.com", "hunter2!"); err != nil {
		t.Fatalf("clean address throttled: %v", err)
	}
}

func TestLockoutErrorUnwrapping(t *testing.T) {
	err := error(&LockoutError{RemainingSeconds: 42})

	if !errors.Is(err, ErrAccountLocked) {
		t.Fatal("LockoutError does not unwrap to ErrAccountLocked")
	}
	var lockErr *LockoutError
	if !errors.As(err, &lockErr) || lockErr.RemainingSeconds != 42 {
		t.Fatalf("errors.As failed: %+v", lockErr)
	}
}

func TestNewValidatesInputs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if _, err := New(testConfig(), nil, newMockStore(), nil); err == nil {
		t.Fatal("nil redis client accepted")
	}
	if _, err := New(testConfig(), rdb, nil, nil); err == nil {
		t.Fatal("nil credential store accepted")
	}

	cfg := testConfig()
	cfg.Tokens.RefreshSecret = cfg.Tokens.AccessSecret
	if _, err := New(cfg, rdb, newMockStore(), nil); err == nil {
		t.Fatal("duplicate signing secrets accepted")
	}

	cfg = testConfig()
	cfg.Lockout.Threshold = 0
	if _, err := New(cfg, rdb, newMockStore(), nil); err == nil {
		t.Fatal("zero lockout threshold accepted")
	}
}
