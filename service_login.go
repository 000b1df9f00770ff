package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/brightbooks/authcore/audit"
	"github.com/brightbooks/authcore/session"
	"github.com/brightbooks/authcore/token"
)

// loginState is threaded through the login pipeline. Stages fill it in
// order; setting result short-circuits the remaining stages.
type loginState struct {
	email    string
	password string

	cred   Credential
	result *LoginResult
}

type loginStage func(ctx context.Context, st *loginState) error

// Login authenticates an email/password pair. On success it returns a token
// pair and creates a session; for two-factor accounts it returns a short
// lived challenge token instead, to be exchanged via [Service.VerifyTwoFactor].
//
// The flow is an ordered pipeline (throttle, lookup, lockout, password,
// account status, second factor, session establishment) where the first
// failing stage rejects the request. Unknown email and wrong password are
// indistinguishable in both the returned error and response timing beyond
// the hash computation itself.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if s == nil || s.store == nil {
		return nil, ErrServiceNotReady
	}

	st := &loginState{email: email, password: password}
	stages := []loginStage{
		s.stageThrottleIP,
		s.stageLookup,
		s.stageThrottleIdentity,
		s.stageLockout,
		s.stagePassword,
		s.stageAccountStatus,
		s.stageSecondFactor,
		s.stageEstablish,
	}

	for _, stage := range stages {
		if err := stage(ctx, st); err != nil {
			return nil, err
		}
		if st.result != nil {
			return st.result, nil
		}
	}
	return nil, ErrServiceNotReady
}

// stageThrottleIP rejects addresses over the failed-login threshold before
// any credential work happens, so enumeration attempts from a hot IP cost
// one Redis read.
func (s *Service) stageThrottleIP(ctx context.Context, _ *loginState) error {
	if clientIPFromContext(ctx) == "" {
		return nil
	}
	return s.checkThrottle(ctx, "")
}

func (s *Service) stageLookup(ctx context.Context, st *loginState) error {
	if st.email == "" || st.password == "" {
		s.record(ctx, audit.ActionLoginFailed, audit.SeverityMedium, "", map[string]string{
			"reason": "empty_input",
		})
		return ErrInvalidCredentials
	}

	cred, err := s.store.FindByEmail(ctx, st.email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			s.record(ctx, audit.ActionLoginFailed, audit.SeverityMedium, "", map[string]string{
				"reason": "unknown_email",
			})
			return ErrInvalidCredentials
		}
		return err
	}

	st.cred = cred
	return nil
}

func (s *Service) stageThrottleIdentity(ctx context.Context, st *loginState) error {
	return s.checkThrottle(ctx, st.cred.ID)
}

func (s *Service) stageLockout(ctx context.Context, st *loginState) error {
	status, err := s.guard.Check(ctx, st.cred.ID)
	if err != nil {
		return err
	}
	if !status.Locked {
		return nil
	}

	s.record(ctx, audit.ActionAccountLocked, audit.SeverityHigh, st.cred.ID, map[string]string{
		"reason": "attempt_while_locked",
	})
	return &LockoutError{RemainingSeconds: remainingSeconds(status.Remaining)}
}

func (s *Service) stagePassword(ctx context.Context, st *loginState) error {
	ok, err := s.hasher.Verify(st.password, st.cred.PasswordHash)
	if err != nil || !ok {
		s.recordFailure(ctx, st.cred, audit.ActionLoginFailed, "password_mismatch")
		return ErrInvalidCredentials
	}
	st.password = ""
	return nil
}

// stageAccountStatus runs after password verification: a disabled account
// reveals its state only to callers that already hold the password.
func (s *Service) stageAccountStatus(ctx context.Context, st *loginState) error {
	if !st.cred.Disabled {
		return nil
	}
	s.record(ctx, audit.ActionLoginFailed, audit.SeverityMedium, st.cred.ID, map[string]string{
		"reason": "account_disabled",
	})
	return ErrAccountDisabled
}

func (s *Service) stageSecondFactor(ctx context.Context, st *loginState) error {
	if !st.cred.TwoFactorEnabled {
		return nil
	}

	challenge, err := s.tokens.MintChallenge(st.cred.ID, token.PurposeLogin, "")
	if err != nil {
		return err
	}
	st.result = &LoginResult{TwoFactorRequired: true, ChallengeToken: challenge}
	return nil
}

func (s *Service) stageEstablish(ctx context.Context, st *loginState) error {
	result, err := s.establishSession(ctx, st.cred, audit.ActionLoginSuccess)
	if err != nil {
		return err
	}
	st.result = result
	return nil
}

// establishSession is the shared tail of the login and two-factor flows:
// reset the failure counter, mint the token pair, create the session (with
// cap enforcement), and log the outcome.
func (s *Service) establishSession(ctx context.Context, cred Credential, successAction audit.Action) (*LoginResult, error) {
	s.recordSuccess(ctx, cred)

	sessionID := uuid.NewString()
	access, err := s.tokens.MintAccess(cred.ID, cred.Email, cred.Role, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.MintRefresh(cred.ID, sessionID, cred.TokenVersion)
	if err != nil {
		return nil, err
	}

	created, err := s.sessions.Create(ctx, &session.Session{
		ID:          sessionID,
		IdentityID:  cred.ID,
		RefreshHash: hashToken(refresh),
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		CreatedAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.ActionSessionCreated, audit.SeverityLow, cred.ID, map[string]string{
		"session_id": sessionID,
	})
	if created.EvictedID != "" {
		s.record(ctx, audit.ActionSessionRevoked, audit.SeverityMedium, cred.ID, map[string]string{
			"session_id": created.EvictedID,
			"reason":     "concurrency_cap",
		})
	}
	s.record(ctx, successAction, audit.SeverityLow, cred.ID, nil)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, nil
}

func hashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

func remainingSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
