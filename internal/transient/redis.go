package transient

import (
	"fmt"
	"strconv"
	"time"

	libredis "github.com/go-redis/redis"
)

// Compile-time proof that RedisStore satisfies the Store interface.
var _ Store = (*RedisStore)(nil)

// RedisStore backs the transient store with Redis so several service
// instances behind one proxy share counters and block flags. Redis INCR
// preserves the key's TTL, which is exactly the fixed-window discipline
// Store requires.
type RedisStore struct {
	client *libredis.Client
	prefix string
}

// NewRedisStore wraps an existing client. All keys are namespaced under
// prefix (ignored when empty).
func NewRedisStore(client *libredis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(key string) (int64, bool, error) {
	val, err := s.client.Get(s.key(key)).Result()
	if err == libredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("transient: get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("transient: parse %s: %w", key, err)
	}
	return n, true, nil
}

func (s *RedisStore) Set(key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("transient: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Incr(key string) (int64, error) {
	n, err := s.client.Incr(s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("transient: incr %s: %w", key, err)
	}
	return n, nil
}

// Ping verifies connectivity, for readiness checks.
func (s *RedisStore) Ping() error {
	if err := s.client.Ping().Err(); err != nil {
		return fmt.Errorf("transient: redis unreachable: %w", err)
	}
	return nil
}
