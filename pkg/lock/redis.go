package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/deployd/pkg/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "deployd:lock:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between deployd processes through redis.
// Locks expire after ttl so a crashed holder cannot block an environment forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLocker connects to redisURL and verifies the connection
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: log.WithComponent("lock"),
	}, nil
}

// TryLock implements Locker
func (l *RedisLocker) TryLock(ctx context.Context, name string) (func(), error) {
	key := redisKeyPrefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Str("lock", name).Msg("Failed to release lock")
			}
		})
	}, nil
}

// Close closes the redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Ping verifies the redis connection
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
