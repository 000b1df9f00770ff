package authcore

import (
	"context"
	"errors"

	"github.com/brightbooks/authcore/audit"
)

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is NOT rotated: it remains usable until its own
// expiry or until the identity's token version is bumped. That is a
// documented policy tradeoff (simplicity over rotation), not an oversight;
// see the token package docs before changing it.
//
// Revocation is purely the version check: a token minted at version N is
// rejected the moment the identity's version is anything else, with no
// blacklist involved. A stale-version token is treated as possible replay
// and logged accordingly.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if s == nil || s.store == nil {
		return "", ErrServiceNotReady
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", mapTokenError(err)
	}

	cred, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return "", ErrTokenInvalid
		}
		return "", err
	}

	if err := s.checkThrottle(ctx, cred.ID); err != nil {
		return "", err
	}

	if claims.TokenVersion != cred.TokenVersion {
		s.record(ctx, audit.ActionSuspiciousActivity, audit.SeverityHigh, cred.ID, map[string]string{
			"reason":     "stale_token_version",
			"session_id": claims.SessionID,
		})
		return "", ErrTokenInvalid
	}

	access, err := s.tokens.MintAccess(cred.ID, cred.Email, cred.Role, claims.SessionID)
	if err != nil {
		return "", err
	}

	s.record(ctx, audit.ActionTokenRefreshed, audit.SeverityLow, cred.ID, map[string]string{
		"session_id": claims.SessionID,
	})
	return access, nil
}
