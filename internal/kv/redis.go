package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore implements Store on a redis client.
type RedisStore struct {
	rdb *redis.Client
}

// RedisConfig configures the redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "kv: redis ping")
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client (used by tests).
func NewRedisFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX so a window's expiry is anchored to its first increment.
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrapf(err, "kv: incr %s", key)
	}
	return incr.Val(), nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "kv: set %s", key)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "kv: get %s", key)
	}
	return val, nil
}

// compareDelScript deletes the key only when its value matches ARGV[1].
var compareDelScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) CompareDel(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareDelScript.Run(ctx, s.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, eris.Wrapf(err, "kv: comparedel %s", key)
	}
	return n == 1, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return eris.Wrapf(err, "kv: del %s", key)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
