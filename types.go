package authcore

import (
	"context"
	"time"
)

// Credential is the security-relevant slice of a user record. The credential
// store owns the full profile; the core only reads these fields and writes
// the mutable ones (failed attempts, token version, two-factor secret)
// through [CredentialStore].
type Credential struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             string
	Disabled         bool
	FailedAttempts   int
	LastFailedAt     time.Time
	TokenVersion     int64
	TwoFactorSecret  string
	TwoFactorEnabled bool
}

// CredentialStore is the collaborator interface the core consumes to reach
// the user database. Implementations must return [ErrCredentialNotFound]
// (possibly wrapped) when no record matches.
//
// IncrementTokenVersion must be atomic in the backing store (e.g. a single
// UPDATE ... SET token_version = token_version + 1 RETURNING): bumping the
// version is the refresh-token revocation mechanism and may race with a
// concurrent refresh.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (Credential, error)
	FindByID(ctx context.Context, id string) (Credential, error)
	UpdateFailedAttempts(ctx context.Context, id string, failed int, last time.Time) error
	IncrementTokenVersion(ctx context.Context, id string) (int64, error)
	SetTwoFactorSecret(ctx context.Context, id string, secret string) error
}

// LoginResult is returned by [Service.Login] and [Service.VerifyTwoFactor].
// Either both token fields or the challenge fields are set, never both.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	TwoFactorRequired bool
	ChallengeToken    string
}

// TwoFactorSetup is returned by [Service.BeginTwoFactorSetup]. The secret is
// not yet committed to the credential store; it travels inside the signed
// challenge token so setup needs no server-side session state.
type TwoFactorSetup struct {
	ChallengeToken  string
	Secret          string
	ProvisioningURI string
}

// SessionInfo is the caller-facing view of one live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	IsCurrent bool      `json:"isCurrent"`
}
