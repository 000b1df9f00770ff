package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store is the Redis-backed event sink and query index. Each event is
// written once as a JSON record and indexed into per-action, per-severity,
// per-identity-critical, and per-IP-failed-login sorted sets keyed by event
// time, so windowed counts are a single ZCOUNT.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewStore creates a Store. retention bounds how far back queries can see.
func NewStore(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	return &Store{redis: client, prefix: prefix, retention: retention}
}

func (s *Store) eventKey(id string) string         { return s.prefix + ":ev:" + id }
func (s *Store) actionKey(a Action) string         { return s.prefix + ":ax:" + string(a) }
func (s *Store) severityKey(v Severity) string     { return s.prefix + ":sx:" + string(v) }
func (s *Store) criticalKey(identity string) string { return s.prefix + ":cx:" + identity }
func (s *Store) failedIPKey(ip string) string      { return s.prefix + ":fx:" + ip }

// Write appends the event and updates every index it belongs to, in one
// transaction. Implements [Sink].
func (s *Store) Write(ctx context.Context, event Event) error {
	if event.ID == "" || event.Action == "" {
		return errors.New("audit: event id and action are required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	blob, err := json.Marshal(event)
	if err != nil {
		return err
	}

	at := float64(event.CreatedAt.UnixMilli())
	horizon := strconv.FormatInt(event.CreatedAt.Add(-s.retention).UnixMilli(), 10)
	member := redis.Z{Score: at, Member: event.ID}

	index := func(pipe redis.Pipeliner, key string) {
		pipe.ZAdd(ctx, key, member)
		pipe.ZRemRangeByScore(ctx, key, "-inf", horizon)
		pipe.PExpire(ctx, key, s.retention)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.eventKey(event.ID), blob, s.retention)
		index(pipe, s.actionKey(event.Action))
		index(pipe, s.severityKey(event.Severity))
		if event.Severity == SeverityCritical && event.IdentityID != "" {
			index(pipe, s.criticalKey(event.IdentityID))
		}
		if event.Action == ActionLoginFailed && event.IP != "" {
			index(pipe, s.failedIPKey(event.IP))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Filter selects one counting dimension for [Store.CountSince]. Exactly one
// field should be set; precedence when several are: IdentityID (critical
// events for that identity), IP (failed logins from that address), Action,
// Severity.
type Filter struct {
	IdentityID string
	IP         string
	Action     Action
	Severity   Severity
}

// CountSince returns how many matching events fall inside the trailing
// window.
func (s *Store) CountSince(ctx context.Context, f Filter, window time.Duration) (int64, error) {
	var key string
	switch {
	case f.IdentityID != "":
		key = s.criticalKey(f.IdentityID)
	case f.IP != "":
		key = s.failedIPKey(f.IP)
	case f.Action != "":
		key = s.actionKey(f.Action)
	case f.Severity != "":
		key = s.severityKey(f.Severity)
	default:
		return 0, errors.New("audit: empty filter")
	}

	return s.countWindow(ctx, key, window)
}

// StatsBySeverity returns per-tier event counts inside the window.
func (s *Store) StatsBySeverity(ctx context.Context, window time.Duration) (map[Severity]int64, error) {
	stats := make(map[Severity]int64, len(Severities))
	for _, severity := range Severities {
		count, err := s.countWindow(ctx, s.severityKey(severity), window)
		if err != nil {
			return nil, err
		}
		stats[severity] = count
	}
	return stats, nil
}

// StatsByAction returns per-action event counts inside the window.
func (s *Store) StatsByAction(ctx context.Context, window time.Duration) (map[Action]int64, error) {
	stats := make(map[Action]int64, len(Actions))
	for _, action := range Actions {
		count, err := s.countWindow(ctx, s.actionKey(action), window)
		if err != nil {
			return nil, err
		}
		stats[action] = count
	}
	return stats, nil
}

// Get retrieves a single event by id, if it is still within retention.
func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	data, err := s.redis.Get(ctx, s.eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Event{}, errors.New("audit: event not found")
		}
		return Event{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func (s *Store) countWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	min := strconv.FormatInt(time.Now().Add(-window).UnixMilli(), 10)
	count, err := s.redis.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}
