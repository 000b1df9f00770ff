package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/brightbooks/authcore/audit"
	"github.com/brightbooks/authcore/token"
)

// VerifyTwoFactor exchanges a login challenge token plus a TOTP code for a
// full token pair. The challenge's signature and expiry are validated before
// the code, so an expired challenge reports [ErrTokenExpired] regardless of
// code correctness. Wrong codes count toward the lockout threshold exactly
// like wrong passwords.
func (s *Service) VerifyTwoFactor(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if s == nil || s.store == nil {
		return nil, ErrServiceNotReady
	}

	claims, err := s.tokens.VerifyChallenge(challengeToken, token.PurposeLogin)
	if err != nil {
		s.record(ctx, audit.ActionTwoFactorFailed, audit.SeverityMedium, "", map[string]string{
			"reason": challengeFailReason(err),
		})
		return nil, mapTokenError(err)
	}

	cred, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if err := s.checkThrottle(ctx, cred.ID); err != nil {
		return nil, err
	}

	status, err := s.guard.Check(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		s.record(ctx, audit.ActionAccountLocked, audit.SeverityHigh, cred.ID, map[string]string{
			"reason": "attempt_while_locked",
		})
		return nil, &LockoutError{RemainingSeconds: remainingSeconds(status.Remaining)}
	}

	if !cred.TwoFactorEnabled || cred.TwoFactorSecret == "" {
		return nil, ErrTokenInvalid
	}

	if !s.totp.Verify(code, cred.TwoFactorSecret, time.Now()) {
		s.recordFailure(ctx, cred, audit.ActionTwoFactorFailed, "wrong_code")
		return nil, ErrInvalidTwoFactorCode
	}

	return s.establishSession(ctx, cred, audit.ActionTwoFactorSuccess)
}

// BeginTwoFactorSetup starts TOTP enrollment for an authenticated identity.
// The generated secret is NOT committed; it travels inside the signed setup
// challenge so the client can complete enrollment statelessly within the
// challenge TTL.
func (s *Service) BeginTwoFactorSetup(ctx context.Context, identityID string) (*TwoFactorSetup, error) {
	if s == nil || s.store == nil {
		return nil, ErrServiceNotReady
	}

	cred, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	secret, uri, err := s.totp.GenerateSecret(cred.Email)
	if err != nil {
		return nil, err
	}

	challenge, err := s.tokens.MintChallenge(cred.ID, token.PurposeSetup, secret)
	if err != nil {
		return nil, err
	}

	return &TwoFactorSetup{
		ChallengeToken:  challenge,
		Secret:          secret,
		ProvisioningURI: uri,
	}, nil
}

// ConfirmTwoFactorSetup commits the secret carried by a setup challenge once
// the caller proves possession with a valid code. Until this call the
// credential record is untouched; an abandoned setup expires with its token.
func (s *Service) ConfirmTwoFactorSetup(ctx context.Context, challengeToken, code string) error {
	if s == nil || s.store == nil {
		return ErrServiceNotReady
	}

	claims, err := s.tokens.VerifyChallenge(challengeToken, token.PurposeSetup)
	if err != nil {
		return mapTokenError(err)
	}
	if claims.Secret == "" {
		return ErrTokenInvalid
	}

	if !s.totp.Verify(code, claims.Secret, time.Now()) {
		s.record(ctx, audit.ActionTwoFactorFailed, audit.SeverityMedium, claims.Subject, map[string]string{
			"reason": "setup_wrong_code",
		})
		return ErrInvalidTwoFactorCode
	}

	if err := s.store.SetTwoFactorSecret(ctx, claims.Subject, claims.Secret); err != nil {
		return err
	}

	s.record(ctx, audit.ActionTwoFactorSuccess, audit.SeverityLow, claims.Subject, map[string]string{
		"reason": "setup_confirmed",
	})
	return nil
}

func challengeFailReason(err error) string {
	if errors.Is(err, token.ErrExpired) {
		return "challenge_expired"
	}
	return "challenge_invalid"
}
