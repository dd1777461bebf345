// Package session implements server-side sessions kept in Redis and
// addressed by an opaque cookie. A session holds the encoded principal of
// the signed-in user, one-shot flash messages and the return-to path saved
// when an anonymous visitor hit a protected page.
//
// Keys (all carry the idle TTL, refreshed on every load):
//
//	session:<id>            JSON record {principal, created_at}
//	session:<id>:flash      list of JSON flashes, taken once
//	session:<id>:return_to  string, taken once
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every Redis failure so callers can tell a store
// outage from a missing session.
var ErrStoreUnavailable = errors.New("session store unavailable")

const keyPrefix = "session:"

// idBytes is the amount of randomness in a session id.
const idBytes = 32

// Flash kinds.
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// record is the JSON value stored under session:<id>.
type record struct {
	Principal json.RawMessage `json:"principal"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store reads and writes session data in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a store whose sessions expire after ttl without activity.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// IdleTimeout returns the configured idle TTL.
func (s *Store) IdleTimeout() time.Duration {
	return s.ttl
}

func recordKey(id string) string   { return keyPrefix + id }
func flashKey(id string) string    { return keyPrefix + id + ":flash" }
func returnToKey(id string) string { return keyPrefix + id + ":return_to" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// newID returns a fresh URL-safe random session id.
func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// load fetches a record and slides the TTL of every key of the session.
// A missing or expired session returns (nil, nil).
func (s *Store) load(ctx context.Context, id string) (*record, error) {
	data, err := s.rdb.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is treated as no session; the caller starts over.
		return nil, nil
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, recordKey(id), s.ttl)
		pipe.Expire(ctx, flashKey(id), s.ttl)
		pipe.Expire(ctx, returnToKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	return &rec, nil
}

// save writes the record with a fresh TTL.
func (s *Store) save(ctx context.Context, id string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	if err := s.rdb.Set(ctx, recordKey(id), data, s.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// pushFlash appends a flash to the session's list.
func (s *Store) pushFlash(ctx context.Context, id string, f Flash) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding flash: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, flashKey(id), data)
		pipe.Expire(ctx, flashKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// takeFlashes returns and removes every queued flash in one transaction.
func (s *Store) takeFlashes(ctx context.Context, id string) ([]Flash, error) {
	var lrange *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, flashKey(id), 0, -1)
		pipe.Del(ctx, flashKey(id))
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	raw := lrange.Val()
	flashes := make([]Flash, 0, len(raw))
	for _, item := range raw {
		var f Flash
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			continue
		}
		flashes = append(flashes, f)
	}
	return flashes, nil
}

// setReturnTo stores the path to resume after login.
func (s *Store) setReturnTo(ctx context.Context, id, path string) error {
	if err := s.rdb.Set(ctx, returnToKey(id), path, s.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// takeReturnTo reads and deletes the return-to path atomically.
func (s *Store) takeReturnTo(ctx context.Context, id string) (string, error) {
	path, err := s.rdb.GetDel(ctx, returnToKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", unavailable(err)
	}
	return path, nil
}

// rotate moves every key of oldID under a freshly generated id and deletes
// the old keys, so a session id observed before login is useless after it.
func (s *Store) rotate(ctx context.Context, oldID string, rec *record) (string, error) {
	newSessionID, err := newID()
	if err != nil {
		return "", err
	}

	var (
		flashes  *redis.StringSliceCmd
		returnTo *redis.StringCmd
	)
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		flashes = pipe.LRange(ctx, flashKey(oldID), 0, -1)
		returnTo = pipe.Get(ctx, returnToKey(oldID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", unavailable(err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding session record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(newSessionID), data, s.ttl)
		if items := flashes.Val(); len(items) > 0 {
			args := make([]any, len(items))
			for i, item := range items {
				args[i] = item
			}
			pipe.RPush(ctx, flashKey(newSessionID), args...)
			pipe.Expire(ctx, flashKey(newSessionID), s.ttl)
		}
		if path := returnTo.Val(); path != "" {
			pipe.Set(ctx, returnToKey(newSessionID), path, s.ttl)
		}
		pipe.Del(ctx, recordKey(oldID), flashKey(oldID), returnToKey(oldID))
		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}

	return newSessionID, nil
}

// destroy deletes every key of the session. Deleting a missing session is
// not an error.
func (s *Store) destroy(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, recordKey(id), flashKey(id), returnToKey(id)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
