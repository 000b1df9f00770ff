// Package lockout decides whether an identity may attempt authentication,
// given its recent failure history. The failure counter lives in Redis:
// INCR is atomic, so two parallel wrong-password attempts can never both
// observe the pre-increment count, and the state is shared across service
// instances. The counter's TTL is re-armed on every failure, which makes
// the window run from the most recent failure, not the first.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps transport-level Redis failures. The guard never
// fails open: callers must treat this as a rejected attempt.
var ErrUnavailable = errors.New("lockout backend unavailable")

// Config tunes the guard.
type Config struct {
	Threshold int
	Window    time.Duration
}

// Status is the answer to a lockout check.
type Status struct {
	Locked    bool
	Remaining time.Duration
	Failures  int
}

// Guard tracks failed authentication attempts per identity.
type Guard struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a Guard. prefix namespaces the counter keys.
func New(client redis.UniversalClient, prefix string, cfg Config) *Guard {
	return &Guard{redis: client, prefix: prefix, config: cfg}
}

func (g *Guard) key(identityID string) string {
	return g.prefix + ":lo:" + identityID
}

// Check reports whether the identity is currently locked out and, if so,
// how long remains in the window.
func (g *Guard) Check(ctx context.Context, identityID string) (Status, error) {
	key := g.key(identityID)

	count, err := g.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(g.config.Threshold) {
		return Status{Failures: int(count)}, nil
	}

	remaining, err := g.redis.PTTL(ctx, key).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if remaining <= 0 {
		// Counter exists without a TTL only between INCR and PEXPIRE of a
		// concurrent RecordFailure; treat it as a full window.
		remaining = g.config.Window
	}

	return Status{Locked: true, Remaining: remaining, Failures: int(count)}, nil
}

// RecordFailure increments the identity's failure counter and re-arms the
// window. Returns the post-increment count, so the caller can tell exactly
// which attempt tripped the threshold.
func (g *Guard) RecordFailure(ctx context.Context, identityID string) (int, error) {
	key := g.key(identityID)

	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := g.redis.PExpire(ctx, key, g.config.Window).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return int(count), nil
}

// RecordSuccess resets the failure counter to zero. Called exactly on
// successful authentication.
func (g *Guard) RecordSuccess(ctx context.Context, identityID string) error {
	if err := g.redis.Del(ctx, g.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Failures returns the current counter without side effects.
func (g *Guard) Failures(ctx context.Context, identityID string) (int, error) {
	count, err := g.redis.Get(ctx, g.key(identityID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
