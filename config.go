package authcore

import (
	"bytes"
	"errors"
	"time"

	"github.com/brightbooks/authcore/password"
)

const minSigningSecretBytes = 32

// LockoutConfig tunes the brute-force lockout guard. An identity is locked
// once Threshold failures accumulate, until Window has elapsed since the
// most recent failure.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// SessionConfig tunes the session registry. MaxConcurrent is the hard cap of
// live sessions per identity; creating one more revokes the oldest.
// Retention bounds how long a session can stay live at all.
type SessionConfig struct {
	MaxConcurrent int
	Retention     time.Duration
}

// TokenConfig carries the three independent signing secrets and per-family
// TTLs. The secrets must be supplied out-of-band, be at least 32 bytes each,
// and be pairwise distinct so that compromise of one family does not affect
// the others.
type TokenConfig struct {
	AccessSecret    []byte
	RefreshSecret   []byte
	ChallengeSecret []byte

	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SetupChallengeTTL time.Duration
	LoginChallengeTTL time.Duration

	Issuer string
	Leeway time.Duration
}

// TwoFactorConfig tunes TOTP verification.
type TwoFactorConfig struct {
	Issuer string
	Period uint
	Skew   uint
}

// SuspicionConfig tunes the suspicious-activity detector: a caller is
// throttled when the identity accumulated more than CriticalThreshold
// critical events, or the IP more than FailedLoginThreshold failed logins,
// inside the rolling Window.
type SuspicionConfig struct {
	CriticalThreshold    int
	FailedLoginThreshold int
	Window               time.Duration
}

// AuditConfig tunes the security-event pipeline. Buffer is the dispatcher
// queue size; a full queue degrades to a direct blocking write, never a
// drop. Retention bounds how long events stay queryable.
type AuditConfig struct {
	Buffer    int
	Retention time.Duration
}

// Config is the root service configuration. Zero values are rejected by
// [Config.Validate]; start from [DefaultConfig] and fill in the secrets.
type Config struct {
	// KeyPrefix namespaces every Redis key written by this service.
	KeyPrefix string

	Lockout   LockoutConfig
	Sessions  SessionConfig
	Tokens    TokenConfig
	TwoFactor TwoFactorConfig
	Suspicion SuspicionConfig
	Audit     AuditConfig
	Password  password.Config
}

// DefaultConfig returns the documented production defaults. Signing secrets
// are intentionally absent and must be provided by the caller.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "ac",
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Sessions: SessionConfig{
			MaxConcurrent: 5,
			Retention:     7 * 24 * time.Hour,
		},
		Tokens: TokenConfig{
			AccessTTL:         15 * time.Minute,
			RefreshTTL:        7 * 24 * time.Hour,
			SetupChallengeTTL: 10 * time.Minute,
			LoginChallengeTTL: 5 * time.Minute,
			Issuer:            "brightbooks",
			Leeway:            30 * time.Second,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "Brightbooks",
			Period: 30,
			Skew:   1,
		},
		Suspicion: SuspicionConfig{
			CriticalThreshold:    5,
			FailedLoginThreshold: 10,
			Window:               time.Hour,
		},
		Audit: AuditConfig{
			Buffer:    256,
			Retention: 30 * 24 * time.Hour,
		},
		Password: password.DefaultConfig(),
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("config: empty key prefix")
	}
	if c.Lockout.Threshold < 1 {
		return errors.New("config: lockout threshold must be at least 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("config: lockout window must be positive")
	}
	if c.Sessions.MaxConcurrent < 1 {
		return errors.New("config: session cap must be at least 1")
	}
	if c.Sessions.Retention <= 0 {
		return errors.New("config: session retention must be positive")
	}
	if err := validateSecrets(c.Tokens); err != nil {
		return err
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 ||
		c.Tokens.SetupChallengeTTL <= 0 || c.Tokens.LoginChallengeTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		return errors.New("config: token leeway out of range")
	}
	if c.TwoFactor.Period == 0 {
		return errors.New("config: totp period must be positive")
	}
	if c.Suspicion.CriticalThreshold < 1 || c.Suspicion.FailedLoginThreshold < 1 {
		return errors.New("config: suspicion thresholds must be at least 1")
	}
	if c.Suspicion.Window <= 0 {
		return errors.New("config: suspicion window must be positive")
	}
	if c.Audit.Buffer < 1 {
		return errors.New("config: audit buffer must be at least 1")
	}
	if c.Audit.Retention < c.Suspicion.Window {
		return errors.New("config: audit retention shorter than suspicion window")
	}
	return nil
}

func validateSecrets(t TokenConfig) error {
	secrets := [][]byte{t.AccessSecret, t.RefreshSecret, t.ChallengeSecret}
	names := []string{"access", "refresh", "challenge"}

	for i, secret := range secrets {
		if len(secret) < minSigningSecretBytes {
			return errors.New("config: " + names[i] + " signing secret must be at least 32 bytes")
		}
	}
	for i := range secrets {
		for j := i + 1; j < len(secrets); j++ {
			if bytes.Equal(secrets[i], secrets[j]) {
				return errors.New("config: " + names[i] + " and " + names[j] + " signing secrets must differ")
			}
		}
	}
	return nil
}
