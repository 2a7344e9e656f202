package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisPollTimeout = time.Second

// RedisQueue shares work between processes through a Redis list
// (LPUSH on enqueue, BRPOP on dequeue).
type RedisQueue struct {
	client *redis.Client
	key    string
	done   chan struct{}
	closed sync.Once
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "amlwatch:jobs"
	}
	return &RedisQueue{client: client, key: key, done: make(chan struct{})}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue polls with a short BRPOP timeout so Close and ctx are observed promptly
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		select {
		case <-q.done:
			return "", ErrClosed
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		res, err := q.client.BRPop(ctx, redisPollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to dequeue job: %w", err)
		}
		// BRPOP replies with [key, value]
		if len(res) == 2 {
			return res[1], nil
		}
	}
}

// Close stops dequeuing; the client is owned by the caller
func (q *RedisQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
