// Package audit is the append-only security event log. Every
// security-relevant occurrence (successful and failed logins, lockouts,
// two-factor outcomes, session lifecycle, token refreshes) is recorded as
// an [Event] and flows through a [Dispatcher] into a [Sink]. The Redis-backed
// [Store] sink additionally indexes events into rolling time windows so the
// suspicious-activity [Detector] and the operational stats queries can
// answer without scanning.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action classifies a security event.
type Action string

const (
	ActionLoginSuccess       Action = "LOGIN_SUCCESS"
	ActionLoginFailed        Action = "LOGIN_FAILED"
	ActionAccountLocked      Action = "ACCOUNT_LOCKED"
	ActionTwoFactorSuccess   Action = "TWO_FACTOR_SUCCESS"
	ActionTwoFactorFailed    Action = "TWO_FACTOR_FAILED"
	ActionSessionCreated     Action = "SESSION_CREATED"
	ActionSessionRevoked     Action = "SESSION_REVOKED"
	ActionTokenRefreshed     Action = "TOKEN_REFRESHED"
	ActionSuspiciousActivity Action = "SUSPICIOUS_ACTIVITY"
)

// Actions lists every known action, in a stable order, for stats queries.
var Actions = []Action{
	ActionLoginSuccess,
	ActionLoginFailed,
	ActionAccountLocked,
	ActionTwoFactorSuccess,
	ActionTwoFactorFailed,
	ActionSessionCreated,
	ActionSessionRevoked,
	ActionTokenRefreshed,
	ActionSuspiciousActivity,
}

// Severity tiers an event for alerting and for the suspicious-activity
// detector, which counts critical events per identity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every tier, lowest first.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Event is one append-only security event. IdentityID is empty for
// anonymous cases (unknown email, unparseable token).
type Event struct {
	ID         string            `json:"id"`
	IdentityID string            `json:"identity_id,omitempty"`
	Action     Action            `json:"action"`
	Severity   Severity          `json:"severity"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// New builds an event with a fresh id and the current time.
func New(action Action, severity Severity) Event {
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		Severity:  severity,
		CreatedAt: time.Now(),
	}
}
