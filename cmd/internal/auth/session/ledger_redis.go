package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"restroom/cmd/security/token"
)

// RedisLedger implements Ledger over Redis.
//
// Layout:
//
//	<prefix>p:<principalID>  JSON record, PX = remaining lifetime
//	<prefix>v:<digest>       principalID,  PX = remaining lifetime
//
// Redis expires keys on its own clock; reads still compare ExpiresAt against
// the caller's now.
type RedisLedger struct {
	rdb    redis.Cmdable
	prot   *token.Protector
	prefix string
}

type redisRecord struct {
	Sealed    string `json:"v"`
	Digest    string `json:"d"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`

	raw string
}

// compareAndDelete removes KEYS[1] and KEYS[2] only while KEYS[1] still holds
// ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1], KEYS[2])
end
return 0
`)

// NewRedisLedger creates a Redis-backed ledger. prefix namespaces all keys
// (default "restroom:ledger:").
func NewRedisLedger(rdb redis.Cmdable, prot *token.Protector, prefix string) *RedisLedger {
	prot = protectorOrDev(prot)
	if prefix == "" {
		prefix = "restroom:ledger:"
	}
	return &RedisLedger{rdb: rdb, prot: prot, prefix: prefix}
}

func (l *RedisLedger) principalKey(id string) string { return l.prefix + "p:" + id }
func (l *RedisLedger) valueKey(digest string) string { return l.prefix + "v:" + digest }

// Get returns the live entry for principalID or ErrEntryNotFound.
func (l *RedisLedger) Get(ctx context.Context, principalID string, now time.Time) (Entry, error) {
	e, _, err := l.load(ctx, principalID)
	if err != nil {
		return Entry{}, err
	}
	if !e.Live(now) {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

// GetByValue resolves value through its digest index key.
func (l *RedisLedger) GetByValue(ctx context.Context, value string, now time.Time) (Entry, error) {
	pid, err := l.rdb.Get(ctx, l.valueKey(l.prot.Digest(value))).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	e, err := l.Get(ctx, pid, now)
	if err != nil {
		return Entry{}, err
	}
	// The index may outlive a replaced entry.
	if e.Value != value {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (l *RedisLedger) load(ctx context.Context, principalID string) (Entry, redisRecord, error) {
	raw, err := l.rdb.Get(ctx, l.principalKey(principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, redisRecord{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, redisRecord{}, err
	}

	rec := redisRecord{raw: string(raw)}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry{}, redisRecord{}, fmt.Errorf("session: decode ledger record: %w", err)
	}
	value, err := l.prot.Open(rec.Sealed)
	if err != nil {
		return Entry{}, redisRecord{}, fmt.Errorf("session: open ledger value: %w", err)
	}
	return Entry{
		PrincipalID: principalID,
		Value:       value,
		IssuedAt:    time.UnixMilli(rec.IssuedAt).UTC(),
		ExpiresAt:   time.UnixMilli(rec.ExpiresAt).UTC(),
	}, rec, nil
}

// Put writes the value index first, then claims the principal key with SETNX.
// The loser removes its index key and returns the winner.
func (l *RedisLedger) Put(ctx context.Context, principalID, value string, ttl time.Duration, now time.Time) (Entry, bool, error) {
	if !validPut(principalID, value, ttl) {
		return Entry{}, false, fmt.Errorf("session: ledger put: invalid entry")
	}

	e := newEntry(principalID, value, ttl, now)
	sealed, err := l.prot.Seal(value)
	if err != nil {
		return Entry{}, false, err
	}
	digest := l.prot.Digest(value)
	rec, err := json.Marshal(redisRecord{
		Sealed:    sealed,
		Digest:    digest,
		IssuedAt:  e.IssuedAt.UnixMilli(),
		ExpiresAt: e.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return Entry{}, false, err
	}

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		if err := l.rdb.Set(ctx, l.valueKey(digest), principalID, ttl).Err(); err != nil {
			return Entry{}, false, err
		}
		ok, err := l.rdb.SetNX(ctx, l.principalKey(principalID), rec, ttl).Result()
		if err != nil {
			_ = l.rdb.Del(ctx, l.valueKey(digest)).Err()
			return Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
		_ = l.rdb.Del(ctx, l.valueKey(digest)).Err()

		cur, curRec, err := l.load(ctx, principalID)
		switch {
		case err == nil && cur.Live(now):
			return cur, false, nil
		case err == nil:
			// Logically expired but not yet evicted by Redis: drop it unless a
			// concurrent Put already replaced it, then retry.
			keys := []string{l.principalKey(principalID), l.valueKey(curRec.Digest)}
			if err := compareAndDelete.Run(ctx, l.rdb, keys, curRec.raw).Err(); err != nil {
				return Entry{}, false, err
			}
		case errors.Is(err, ErrEntryNotFound):
			// Evicted between SETNX and GET; retry.
		default:
			return Entry{}, false, err
		}
	}
	return Entry{}, false, fmt.Errorf("session: ledger put: contention on %s", principalID)
}

// Delete removes the principal key and its value index key.
func (l *RedisLedger) Delete(ctx context.Context, principalID string) error {
	_, rec, err := l.load(ctx, principalID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	keys := []string{l.principalKey(principalID)}
	if err == nil && rec.Digest != "" {
		keys = append(keys, l.valueKey(rec.Digest))
	}
	return l.rdb.Del(ctx, keys...).Err()
}

// PurgeExpired is a no-op: Redis evicts keys when their PX elapses.
func (l *RedisLedger) PurgeExpired(ctx context.Context, _ time.Time) (int64, error) {
	return 0, ctx.Err()
}
