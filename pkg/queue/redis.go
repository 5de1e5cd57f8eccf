package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue over Redis lists (RPUSH/BLPOP).
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, name string, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	args := make([]any, len(payloads))
	for i, p := range payloads {
		args[i] = p
	}
	if err := q.client.RPush(ctx, name, args...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", name, err)
	}
	return nil
}

func (q *RedisQueue) BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BLPop(ctx, timeout, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", name, err)
	}
	// BLPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	return []byte(result[1]), nil
}
