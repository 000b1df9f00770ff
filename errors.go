package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for both unknown email and wrong
	// password. The two cases are deliberately indistinguishable to the
	// caller to prevent user enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when the account exists, the password
	// matched, but the account has been disabled by an operator.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked is returned while the identity is inside its lockout
	// window. Use [errors.As] with [*LockoutError] to read the remaining time.
	ErrAccountLocked = errors.New("account locked")
	// ErrTwoFactorRequired signals that password verification succeeded and
	// the flow must continue through [Service.VerifyTwoFactor].
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrInvalidTwoFactorCode is returned when a submitted TOTP code does not
	// match for any accepted time step.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrTokenExpired is returned when a token's signature is valid but its
	// lifetime has elapsed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers signature failure, malformed tokens, and
	// refresh-token version mismatch. Verification failures are always fatal
	// to the current request.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionNotFound is returned when a session lookup misses.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSuspiciousActivity throttles callers that exceeded the windowed
	// critical-event or failed-login thresholds.
	ErrSuspiciousActivity = errors.New("request blocked: suspicious activity")
	// ErrCredentialNotFound must be returned by [CredentialStore]
	// implementations when no record matches. The service maps it to
	// [ErrInvalidCredentials] before it crosses the boundary.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrServiceNotReady is returned when a Service method is called before
	// construction through [New] completed.
	ErrServiceNotReady = errors.New("service not initialized")
)

// LockoutError reports an active lockout together with the seconds left in
// the window. It unwraps to [ErrAccountLocked].
type LockoutError struct {
	RemainingSeconds int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked for another %ds", e.RemainingSeconds)
}

func (e *LockoutError) Unwrap() error {
	return ErrAccountLocked
}
