// Package session tracks active sessions per identity in Redis, enforces a
// per-identity concurrency cap with oldest-first eviction, and supports bulk
// revocation. Eviction and bulk revocation run as Lua scripts so the "at
// most N live sessions" invariant holds atomically even under concurrent
// logins for the same identity.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session id does not resolve to a record.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// createScript inserts the new session, prunes index entries whose records
// expired, and, when the live count exceeds the cap, marks the single
// oldest live session revoked in place (the record is superseded, not
// deleted). Returns the evicted session id or the empty string.
const createScript = `
local index_key = KEYS[1]
local session_key = KEYS[2]
local sprefix = ARGV[1]
local id = ARGV[2]
local blob = ARGV[3]
local created = tonumber(ARGV[4])
local retention_ms = tonumber(ARGV[5])
local cap = tonumber(ARGV[6])

redis.call("SET", session_key, blob, "PX", retention_ms)
redis.call("ZADD", index_key, created, id)
redis.call("ZREMRANGEBYSCORE", index_key, "-inf", created - retention_ms)

local ids = redis.call("ZRANGE", index_key, 0, -1)
local live = {}
for _, sid in ipairs(ids) do
  local data = redis.call("GET", sprefix .. sid)
  if not data then
    redis.call("ZREM", index_key, sid)
  else
    local obj = cjson.decode(data)
    if not obj.revoked_at or obj.revoked_at == 0 then
      live[#live + 1] = sid
    end
  end
end

if #live <= cap then
  return ""
end

local oldest = live[1]
local oldest_key = sprefix .. oldest
local data = redis.call("GET", oldest_key)
if not data then
  return ""
end
local obj = cjson.decode(data)
obj.revoked_at = created
local ttl = redis.call("PTTL", oldest_key)
if ttl > 0 then
  redis.call("SET", oldest_key, cjson.encode(obj), "PX", ttl)
end
return oldest
`

// revokeAllScript marks every live session for the identity revoked.
// Returns the number of sessions transitioned.
const revokeAllScript = `
local index_key = KEYS[1]
local sprefix = ARGV[1]
local now = tonumber(ARGV[2])

local revoked = 0
for _, sid in ipairs(redis.call("ZRANGE", index_key, 0, -1)) do
  local key = sprefix .. sid
  local data = redis.call("GET", key)
  if not data then
    redis.call("ZREM", index_key, sid)
  else
    local obj = cjson.decode(data)
    if not obj.revoked_at or obj.revoked_at == 0 then
      obj.revoked_at = now
      local ttl = redis.call("PTTL", key)
      if ttl > 0 then
        redis.call("SET", key, cjson.encode(obj), "PX", ttl)
      end
      revoked = revoked + 1
    end
  end
end
return revoked
`

var (
	createLua    = redis.NewScript(createScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// Registry is the Redis-backed session store.
type Registry struct {
	redis     redis.UniversalClient
	prefix    string
	cap       int
	retention time.Duration
}

// NewRegistry creates a Registry. prefix namespaces the keys, cap is the max
// number of live sessions per identity, retention is how long a session may
// stay live (and how long its record exists at all).
func NewRegistry(client redis.UniversalClient, prefix string, cap int, retention time.Duration) *Registry {
	return &Registry{
		redis:     client,
		prefix:    prefix,
		cap:       cap,
		retention: retention,
	}
}

func (r *Registry) sessionPrefix() string {
	return r.prefix + ":s:"
}

func (r *Registry) sessionKey(id string) string {
	return r.sessionPrefix() + id
}

func (r *Registry) indexKey(identityID string) string {
	return r.prefix + ":i:" + identityID
}

// CreateResult reports the outcome of a Create call. EvictedID is the id of
// the session that was revoked to keep the identity under the cap, if any.
type CreateResult struct {
	Session   *Session
	EvictedID string
}

// Create inserts a live session and atomically enforces the concurrency
// cap: immediately after any Create, the identity has at most cap live
// sessions, with the chronologically oldest one revoked on overflow.
func (r *Registry) Create(ctx context.Context, sess *Session) (CreateResult, error) {
	if sess.ID == "" || sess.IdentityID == "" {
		return CreateResult{}, errors.New("session: id and identity id are required")
	}
	if sess.CreatedAt == 0 {
		sess.CreatedAt = time.Now().UnixMilli()
	}

	blob, err := json.Marshal(sess)
	if err != nil {
		return CreateResult{}, err
	}

	evicted, err := createLua.Run(ctx, r.redis,
		[]string{r.indexKey(sess.IdentityID), r.sessionKey(sess.ID)},
		r.sessionPrefix(),
		sess.ID,
		string(blob),
		sess.CreatedAt,
		r.retention.Milliseconds(),
		r.cap,
	).Text()
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return CreateResult{Session: sess, EvictedID: evicted}, nil
}

// Get retrieves a session record (live or revoked) by id.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess := &Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns the identity's live sessions, newest first.
func (r *Registry) List(ctx context.Context, identityID string) ([]*Session, error) {
	ids, err := r.redis.ZRevRange(ctx, r.indexKey(identityID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	blobs, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(blobs))
	for _, blob := range blobs {
		raw, ok := blob.(string)
		if !ok {
			continue
		}
		sess := &Session{}
		if err := json.Unmarshal([]byte(raw), sess); err != nil {
			continue
		}
		if sess.Live() {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// LiveCount returns the number of live sessions for the identity.
func (r *Registry) LiveCount(ctx context.Context, identityID string) (int, error) {
	sessions, err := r.List(ctx, identityID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// RevokeAll marks every live session for the identity revoked in one atomic
// script and returns the number transitioned. Callers revoking because of a
// security event must bump the identity's token version FIRST: the version
// check is what invalidates outstanding refresh tokens, session records only
// drive the listing.
func (r *Registry) RevokeAll(ctx context.Context, identityID string) (int, error) {
	revoked, err := revokeAllLua.Run(ctx, r.redis,
		[]string{r.indexKey(identityID)},
		r.sessionPrefix(),
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return revoked, nil
}
