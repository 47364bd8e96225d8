package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deletes the key only while it still holds our token, so a lock that expired and was taken
// by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX, shared by every API instance.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(redisURL string, logger *zap.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLockerWithClient(client, logger), nil
}

func NewRedisLockerWithClient(client *redis.Client, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, prefix: "lock:", logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
