package authcore

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightbooks/authcore/audit"
	"github.com/brightbooks/authcore/lockout"
	"github.com/brightbooks/authcore/password"
	"github.com/brightbooks/authcore/session"
	"github.com/brightbooks/authcore/token"
	"github.com/brightbooks/authcore/twofactor"
)

// Service orchestrates the login, two-factor, refresh, and logout-all flows.
// It is the only component exposed to the HTTP layer. Construct it once via
// [New]; all methods are safe for concurrent use.
type Service struct {
	config   Config
	store    CredentialStore
	tokens   *token.Issuer
	sessions *session.Registry
	guard    *lockout.Guard
	events   *audit.Dispatcher
	eventLog *audit.Store
	detector *audit.Detector
	totp     *twofactor.Manager
	hasher   *password.Hasher
}

// New validates cfg and wires the service. client carries all shared state
// (lockout counters, sessions, event windows); store is the user-database
// collaborator. extraSink, when non-nil, receives a copy of every security
// event in addition to the Redis event log.
func New(cfg Config, client redis.UniversalClient, store CredentialStore, extraSink audit.Sink) (*Service, error) {
	if client == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if store == nil {
		return nil, errors.New("authcore: credential store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewIssuer(token.Config{
		AccessSecret:      cfg.Tokens.AccessSecret,
		RefreshSecret:     cfg.Tokens.RefreshSecret,
		ChallengeSecret:   cfg.Tokens.ChallengeSecret,
		AccessTTL:         cfg.Tokens.AccessTTL,
		RefreshTTL:        cfg.Tokens.RefreshTTL,
		SetupChallengeTTL: cfg.Tokens.SetupChallengeTTL,
		LoginChallengeTTL: cfg.Tokens.LoginChallengeTTL,
		Issuer:            cfg.Tokens.Issuer,
		Leeway:            cfg.Tokens.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	eventLog := audit.NewStore(client, cfg.KeyPrefix, cfg.Audit.Retention)
	sink := audit.Sink(eventLog)
	if extraSink != nil {
		sink = audit.Tee(eventLog, extraSink)
	}

	return &Service{
		config:   cfg,
		store:    store,
		tokens:   tokens,
		sessions: session.NewRegistry(client, cfg.KeyPrefix, cfg.Sessions.MaxConcurrent, cfg.Sessions.Retention),
		guard: lockout.New(client, cfg.KeyPrefix, lockout.Config{
			Threshold: cfg.Lockout.Threshold,
			Window:    cfg.Lockout.Window,
		}),
		events:   audit.NewDispatcher(sink, audit.NewJSONWriterSink(os.Stderr), cfg.Audit.Buffer),
		eventLog: eventLog,
		detector: audit.NewDetector(eventLog, audit.DetectorConfig{
			CriticalThreshold:    cfg.Suspicion.CriticalThreshold,
			FailedLoginThreshold: cfg.Suspicion.FailedLoginThreshold,
			Window:               cfg.Suspicion.Window,
		}),
		totp: twofactor.New(twofactor.Config{
			Issuer: cfg.TwoFactor.Issuer,
			Period: cfg.TwoFactor.Period,
			Skew:   cfg.TwoFactor.Skew,
		}),
		hasher: hasher,
	}, nil
}

// Close drains the audit queue. Call on shutdown.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.events.Close()
}

// EventLog exposes the aggregate queries (StatsBySeverity, StatsByAction,
// CountSince) for operational dashboards. Read-only.
func (s *Service) EventLog() *audit.Store {
	return s.eventLog
}

// VerifyAccess validates an access token and returns its claims. Meant for
// the HTTP layer's authentication middleware.
func (s *Service) VerifyAccess(tokenStr string) (*token.AccessClaims, error) {
	if s == nil || s.tokens == nil {
		return nil, ErrServiceNotReady
	}
	claims, err := s.tokens.VerifyAccess(tokenStr)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// HashPassword derives a storable hash with the configured cost parameters.
// Exposed so callers creating or updating credentials hash the same way
// logins verify.
func (s *Service) HashPassword(plaintext string) (string, error) {
	if s == nil || s.hasher == nil {
		return "", ErrServiceNotReady
	}
	return s.hasher.Hash(plaintext)
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

// record builds and dispatches one security event with the caller context
// attached. Never fails the auth flow.
func (s *Service) record(ctx context.Context, action audit.Action, severity audit.Severity, identityID string, detail map[string]string) {
	event := audit.New(action, severity)
	event.IdentityID = identityID
	event.IP = clientIPFromContext(ctx)
	event.UserAgent = userAgentFromContext(ctx)
	event.Detail = detail
	s.events.Record(ctx, event)
}

// checkThrottle runs the per-request suspicious-activity check and records
// the rejection. Empty identityID or a context without an IP skip the
// corresponding criterion.
func (s *Service) checkThrottle(ctx context.Context, identityID string) error {
	suspicious, err := s.detector.IsSuspicious(ctx, identityID, clientIPFromContext(ctx))
	if err != nil {
		return err
	}
	if !suspicious {
		return nil
	}

	s.record(ctx, audit.ActionSuspiciousActivity, audit.SeverityHigh, identityID, map[string]string{
		"reason": "threshold_exceeded",
	})
	return ErrSuspiciousActivity
}

// recordFailure bumps the lockout counter, mirrors it into the credential
// record, and logs the attempt. failAction distinguishes password failures
// from two-factor failures. The attempt that reaches the threshold logs
// ACCOUNT_LOCKED at critical severity.
func (s *Service) recordFailure(ctx context.Context, cred Credential, failAction audit.Action, reason string) {
	count, err := s.guard.RecordFailure(ctx, cred.ID)
	if err != nil {
		log.Printf("authcore: lockout counter update failed: %v", err)
		count = cred.FailedAttempts + 1
	}

	// Mirror is best-effort: Redis is authoritative for the lockout decision.
	if err := s.store.UpdateFailedAttempts(ctx, cred.ID, count, time.Now()); err != nil {
		log.Printf("authcore: failed-attempt mirror update failed: %v", err)
	}

	if count == s.config.Lockout.Threshold {
		s.record(ctx, audit.ActionAccountLocked, audit.SeverityCritical, cred.ID, map[string]string{
			"failures": strconv.Itoa(count),
			"reason":   reason,
		})
		return
	}
	s.record(ctx, failAction, audit.SeverityMedium, cred.ID, map[string]string{
		"reason": reason,
	})
}

// recordSuccess resets the failure counter. The mirror keeps the credential
// record's counter at zero for operator inspection.
func (s *Service) recordSuccess(ctx context.Context, cred Credential) {
	if err := s.guard.RecordSuccess(ctx, cred.ID); err != nil {
		log.Printf("authcore: lockout counter reset failed: %v", err)
	}
	if err := s.store.UpdateFailedAttempts(ctx, cred.ID, 0, time.Time{}); err != nil {
		log.Printf("authcore: failed-attempt mirror reset failed: %v", err)
	}
}
