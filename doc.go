// Package authcore implements the authentication and session-integrity core
// of the Brightbooks business-management API: credential verification with
// brute-force lockout, optional TOTP second factor, access/refresh token
// issuance with version-based revocation, capped multi-session tracking, and
// an append-only security event log with a suspicious-activity detector.
//
// The package is the public surface. [Service] is the only component exposed
// to the HTTP layer; it composes the lockout guard, token issuer, session
// registry, two-factor manager, and audit pipeline from the sub-packages.
// Business record handling (users, invoices, inventory) is an external
// collaborator reached exclusively through [CredentialStore].
//
// # Shared state
//
// Lockout counters, session records, and security-event windows live in
// Redis, never in process memory. This is a correctness requirement, not an
// optimization: a multi-instance deployment with per-process state would
// silently break the lockout and revocation guarantees. Failed-attempt
// increments and token-version bumps are single atomic steps (Redis INCR,
// store-side increment), so two parallel wrong-password attempts can never
// both observe the same counter value.
//
// # What this package must NOT do
//
//   - Retry any auth operation on behalf of the caller.
//   - Expose Redis clients or key layouts in its public API.
//   - Distinguish unknown email from wrong password in any observable way.
package authcore
