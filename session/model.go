package session

import "time"

// Session is one authenticated client context. A session is live while
// RevokedAt is zero and the record still exists in Redis; the record's TTL
// equals the registry retention window, so expiry and the 7-day liveness
// bound are the same mechanism.
//
// Timestamps are Unix milliseconds so the record round-trips through the
// registry's Lua scripts (cjson) without precision games.
type Session struct {
	ID          string `json:"id"`
	IdentityID  string `json:"identity_id"`
	RefreshHash string `json:"refresh_hash"`
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	RevokedAt   int64  `json:"revoked_at,omitempty"`
}

// Live reports whether the session has not been revoked.
func (s *Session) Live() bool {
	return s != nil && s.RevokedAt == 0
}

// CreatedTime returns CreatedAt as a time.Time.
func (s *Session) CreatedTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// RevokedTime returns RevokedAt as a time.Time, or the zero time while live.
func (s *Session) RevokedTime() time.Time {
	if s.RevokedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.RevokedAt)
}
