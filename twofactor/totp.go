// Package twofactor generates and verifies time-based one-time passwords
// (RFC 6238) for the second authentication factor. Codes are 6 digits over
// a 30-second step with configurable clock-skew tolerance; a submitted code
// is accepted only if it matches one of the steps inside the skew range.
package twofactor

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretBytes = 20

// Config tunes code generation and verification.
type Config struct {
	// Issuer is the human-readable service name shown by authenticator apps.
	Issuer string
	// Period is the step size in seconds. 30 is the interoperable default.
	Period uint
	// Skew is how many steps either side of now a code may match. 1 tolerates
	// ±30s of client clock drift.
	Skew uint
}

// Manager creates secrets and verifies codes.
type Manager struct {
	config Config
}

// New creates a Manager, filling in interoperable defaults for zero fields.
func New(cfg Config) *Manager {
	if cfg.Issuer == "" {
		cfg.Issuer = "authcore"
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	return &Manager{config: cfg}
}

// GenerateSecret creates a fresh high-entropy secret for the account and
// returns it in base32 together with the otpauth:// provisioning URI that
// authenticator apps consume.
func (m *Manager) GenerateSecret(accountName string) (secret, provisioningURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      m.config.Period,
		SecretSize:  secretBytes,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Verify reports whether code matches the secret at time at, within the
// configured skew. Comparison inside the library is constant-time per step.
func (m *Manager) Verify(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// Code derives the current code for the secret. Only exported for tests and
// operational tooling; the service never generates codes for callers.
func (m *Manager) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
