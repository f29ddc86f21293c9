package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liguns/internal/config"
	"liguns/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "liguns:lock:"
	deadLetterKey = "liguns:dead_letters"

	// DefaultDeadLetterCap bounds the dead-letter list.
	DefaultDeadLetterCap = 1000
)

var errNilClient = errors.New("redis client is nil")

// releaseScript deletes the lock only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisRunLocker implements domain.RunLocker with SET NX PX.
type RedisRunLocker struct {
	client *redis.Client
}

func NewRedisRunLocker(client *redis.Client) *RedisRunLocker {
	return &RedisRunLocker{client: client}
}

func (l *RedisRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.client == nil {
		return "", false, errNilClient
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisRunLocker) Release(ctx context.Context, key, token string) error {
	if l.client == nil {
		return errNilClient
	}
	if err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// RedisDeadLetters keeps the most recent FAILED entries in a capped list.
type RedisDeadLetters struct {
	client *redis.Client
	cap    int64
}

func NewRedisDeadLetters(client *redis.Client, capacity int) *RedisDeadLetters {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCap
	}
	return &RedisDeadLetters{client: client, cap: int64(capacity)}
}

func (r *RedisDeadLetters) PushDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, deadLetterKey, data)
	pipe.LTrim(ctx, deadLetterKey, 0, r.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit entries, newest first.
func (r *RedisDeadLetters) DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	if limit <= 0 {
		limit = int(r.cap)
	}
	vals, err := r.client.LRange(ctx, deadLetterKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	out := make([]*models.DeadLetter, 0, len(vals))
	for _, v := range vals {
		var dl models.DeadLetter
		if err := json.Unmarshal([]byte(v), &dl); err != nil {
			continue
		}
		out = append(out, &dl)
	}
	return out, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
