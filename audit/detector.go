package audit

import (
	"context"
	"time"
)

// DetectorConfig tunes the suspicious-activity heuristic.
type DetectorConfig struct {
	// CriticalThreshold is the max critical events per identity inside Window
	// before the identity is throttled.
	CriticalThreshold int
	// FailedLoginThreshold is the max LOGIN_FAILED events per IP inside
	// Window before the address is throttled.
	FailedLoginThreshold int
	Window               time.Duration
}

// Detector answers the per-request suspicious-activity check. It queries the
// store every time rather than caching: the decision must not be bypassable
// by switching client IPs while still attacking the same identity, and the
// throttle must lift on its own when the window rolls off.
type Detector struct {
	store  *Store
	config DetectorConfig
}

// NewDetector creates a Detector over the given store.
func NewDetector(store *Store, cfg DetectorConfig) *Detector {
	return &Detector{store: store, config: cfg}
}

// IsSuspicious reports whether the identity or the IP exceeded its windowed
// threshold. Either argument may be empty, which skips that criterion.
func (d *Detector) IsSuspicious(ctx context.Context, identityID, ip string) (bool, error) {
	if identityID != "" {
		count, err := d.store.CountSince(ctx, Filter{IdentityID: identityID}, d.config.Window)
		if err != nil {
			return false, err
		}
		if count > int64(d.config.CriticalThreshold) {
			return true, nil
		}
	}

	if ip != "" {
		count, err := d.store.CountSince(ctx, Filter{IP: ip}, d.config.Window)
		if err != nil {
			return false, err
		}
		if count > int64(d.config.FailedLoginThreshold) {
			return true, nil
		}
	}

	return false, nil
}
