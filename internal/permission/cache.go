package permission

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached projection may be served after the
// underlying assignments change.
const DefaultTTL = 30 * time.Minute

// Store is the cache port. Every operation is best-effort from the
// engine's point of view: a failing store slows computation down but
// never changes its outcome.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type keyKind int

const (
	keyUser keyKind = iota
	keyRole
	keyTenantCeiling
)

func (k keyKind) key(id int64) string {
	switch k {
	case keyUser:
		return "user-permissions:" + strconv.FormatInt(id, 10)
	case keyRole:
		return "role-permissions:" + strconv.FormatInt(id, 10)
	case keyTenantCeiling:
		return "tenant-ceiling:" + strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// RedisStore implements Store on Redis with JSON payloads.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get loads and decodes the value under key, reporting whether it exists.
func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores the value under key for the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

var _ Store = (*RedisStore)(nil)
