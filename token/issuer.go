// Package token mints and verifies the three token families used by the
// auth core: short-lived access tokens, long-lived refresh tokens, and very
// short-lived challenge tokens for two-factor flows. Each family is signed
// with its own independent HS256 key, so compromise of one key never
// extends to the others.
//
// Refresh tokens are deliberately NOT rotated on use: a refresh token stays
// valid until its own expiry or until the identity's token version is
// bumped, which fails the version check on every outstanding token. This is
// a documented simplicity/security tradeoff, not an oversight; rotating on
// every refresh is a product decision that changes the usability balance.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired is returned when a token's signature is valid but its
	// lifetime elapsed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for signature failures, malformed tokens, wrong
	// token family, and wrong challenge purpose.
	ErrInvalid = errors.New("token invalid")
)

// Purpose distinguishes the two challenge-token flows.
type Purpose string

const (
	// PurposeSetup binds a two-factor enrollment in progress. The token
	// carries the not-yet-committed secret.
	PurposeSetup Purpose = "setup"
	// PurposeLogin binds a password-verified login awaiting its second
	// factor. The token carries only the identity.
	PurposeLogin Purpose = "login"
)

// Config carries the signing keys and TTLs for all three families.
type Config struct {
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

// AccessClaims is the payload of an access token. Subject is the identity id.
type AccessClaims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. TokenVersion is compared
// against the identity's current version on every refresh; a mismatch means
// the token was revoked by a version bump.
type RefreshClaims struct {
	TokenVersion int64  `json:"ver"`
	SessionID    string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// ChallengeClaims is the payload of a challenge token. Secret is only set
// for setup-purpose tokens.
type ChallengeClaims struct {
	Purpose string `json:"purpose"`
	Secret  string `json:"secret,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies all three token families.
type Issuer struct {
	config Config
}

// NewIssuer validates the config and returns an Issuer. Key length and
// distinctness checks live in the caller's config validation; this only
// rejects states that would make minting impossible.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 || len(cfg.ChallengeSecret) == 0 {
		return nil, errors.New("token: all three signing secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.SetupChallengeTTL <= 0 || cfg.LoginChallengeTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("token: negative leeway")
	}
	return &Issuer{config: cfg}, nil
}

// MintAccess signs an access token for the identity. sid ties the token to
// the session that produced it; it is informational and not a validity check.
func (i *Issuer) MintAccess(identityID, email, role, sessionID string) (string, error) {
	claims := AccessClaims{
		Email:            email,
		Role:             role,
		SessionID:        sessionID,
		RegisteredClaims: i.registered(identityID, i.config.AccessTTL),
	}
	return i.sign(claims, i.config.AccessSecret)
}

// MintRefresh signs a refresh token carrying the identity's current token
// version.
func (i *Issuer) MintRefresh(identityID, sessionID string, tokenVersion int64) (string, error) {
	claims := RefreshClaims{
		TokenVersion:     tokenVersion,
		SessionID:        sessionID,
		RegisteredClaims: i.registered(identityID, i.config.RefreshTTL),
	}
	return i.sign(claims, i.config.RefreshSecret)
}

// MintChallenge signs a challenge token. secret must be empty unless purpose
// is [PurposeSetup].
func (i *Issuer) MintChallenge(identityID string, purpose Purpose, secret string) (string, error) {
	var ttl time.Duration
	switch purpose {
	case PurposeSetup:
		ttl = i.config.SetupChallengeTTL
	case PurposeLogin:
		if secret != "" {
			return "", errors.New("token: login challenge must not carry a secret")
		}
		ttl = i.config.LoginChallengeTTL
	default:
		return "", errors.New("token: unknown challenge purpose")
	}

	claims := ChallengeClaims{
		Purpose:          string(purpose),
		Secret:           secret,
		RegisteredClaims: i.registered(identityID, ttl),
	}
	return i.sign(claims, i.config.ChallengeSecret)
}

// VerifyAccess parses and validates an access token.
func (i *Issuer) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(tokenStr, claims, i.config.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token. The version check
// against the identity's current token version is the caller's job: it needs
// a credential-store read this package must not perform.
func (i *Issuer) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(tokenStr, claims, i.config.RefreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyChallenge parses a challenge token and checks that it was minted for
// the expected purpose. Signature and expiry are validated before the
// purpose, so an expired token reports [ErrExpired] even when the purpose
// would not have matched.
func (i *Issuer) VerifyChallenge(tokenStr string, purpose Purpose) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := i.parse(tokenStr, claims, i.config.ChallengeSecret); err != nil {
		return nil, err
	}
	if claims.Purpose != string(purpose) {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (i *Issuer) registered(identityID string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   identityID,
		Issuer:    i.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) sign(claims jwt.Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *Issuer) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrInvalid
	}
	if !parsed.Valid {
		return ErrInvalid
	}
	return nil
}
