package authcore

import (
	"context"
	"strconv"

	"github.com/brightbooks/authcore/audit"
)

// LogoutAll revokes every live session for the identity and invalidates all
// of its outstanding refresh tokens.
//
// Ordering matters: the token version is bumped FIRST, atomically in the
// credential store, so the security guarantee (no refresh token survives)
// holds even if this call races a concurrent refresh or fails midway. The
// session records are then marked revoked in one script; if that second step
// fails only the session listing goes stale, never token validity.
func (s *Service) LogoutAll(ctx context.Context, identityID string) error {
	if s == nil || s.store == nil {
		return ErrServiceNotReady
	}

	if _, err := s.store.IncrementTokenVersion(ctx, identityID); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAll(ctx, identityID)
	if err != nil {
		return err
	}

	s.record(ctx, audit.ActionSessionRevoked, audit.SeverityMedium, identityID, map[string]string{
		"reason": "logout_all",
		"count":  strconv.Itoa(revoked),
	})
	return nil
}

// ListSessions returns the identity's live sessions, newest first.
// currentSessionID (the sid claim of the caller's access token) marks which
// entry is the caller's own; pass empty if unknown.
func (s *Service) ListSessions(ctx context.Context, identityID, currentSessionID string) ([]SessionInfo, error) {
	if s == nil || s.sessions == nil {
		return nil, ErrServiceNotReady
	}

	live, err := s.sessions.List(ctx, identityID)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(live))
	for _, sess := range live {
		infos = append(infos, SessionInfo{
			ID:        sess.ID,
			IP:        sess.IP,
			UserAgent: sess.UserAgent,
			CreatedAt: sess.CreatedTime(),
			IsCurrent: currentSessionID != "" && sess.ID == currentSessionID,
		})
	}
	return infos, nil
}
