package explain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisMarkUsedScript flips the used flag only if the token exists and is unused.
// KEYS[1] = token key
// ARGV[1] = used_at (unix nanos)
// Returns 1 on success, 0 if already used, -1 if missing.
var redisMarkUsedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
if redis.call("HGET", KEYS[1], "used") == "1" then
    return 0
end
redis.call("HSET", KEYS[1], "used", "1", "used_at", ARGV[1])
return 1
`)

// RedisStore keeps tokens as Redis hashes that expire on their own once
// past ExpiresAt plus the retention window.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "tajir:explain:", retention: retention}
}

// NewRedisStoreFromAddr dials a single Redis node.
func NewRedisStoreFromAddr(addr, password string, db int, retention time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStore(rdb, retention)
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Put(ctx context.Context, tok Token) error {
	key := s.key(tok.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", tok.UserID,
			"fingerprint", tok.Fingerprint,
			"issued_at", tok.IssuedAt.UnixNano(),
			"expires_at", tok.ExpiresAt.UnixNano(),
			"used", "0",
		)
		pipe.PExpireAt(ctx, key, tok.ExpiresAt.Add(s.retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put explain token: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Token, error) {
	vals, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get explain token: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	tok := Token{
		ID:          id,
		UserID:      vals["user_id"],
		Fingerprint: vals["fingerprint"],
		Used:        vals["used"] == "1",
	}
	if tok.IssuedAt, err = parseNanos(vals["issued_at"]); err != nil {
		return nil, err
	}
	if tok.ExpiresAt, err = parseNanos(vals["expires_at"]); err != nil {
		return nil, err
	}
	if raw, ok := vals["used_at"]; ok {
		at, err := parseNanos(raw)
		if err != nil {
			return nil, err
		}
		tok.UsedAt = &at
	}
	return &tok, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := redisMarkUsedScript.Run(ctx, s.client, []string{s.key(id)}, at.UnixNano()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis mark explain token used: %w", err)
	}
	return res == 1, nil
}

// Prune is a no-op; Redis expires the keys.
func (s *RedisStore) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}

func parseNanos(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q in explain token: %w", raw, err)
	}
	return time.Unix(0, n).UTC(), nil
}
