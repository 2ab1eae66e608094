package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fanpilot/internal/domain"
)

// RedisEventQueue реализует очередь событий на базе Redis lists.
type RedisEventQueue struct {
	client *redis.Client
	key    string
}

// NewRedisEventQueue создаёт очередь по указанному ключу.
func NewRedisEventQueue(client *redis.Client, key string) *RedisEventQueue {
	return &RedisEventQueue{client: client, key: key}
}

var _ domain.EventQueue = (*RedisEventQueue)(nil)

// Enqueue публикует событие в очередь.
func (q *RedisEventQueue) Enqueue(ctx context.Context, event domain.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие из очереди.
// Подтверждение у Redis-списка всегда no-op: элемент уже снят с очереди.
func (q *RedisEventQueue) Receive(ctx context.Context) (domain.LifecycleEvent, domain.EventAckFunc, error) {
	noop := func(bool) error { return nil }
	for {
		if err := ctx.Err(); err != nil {
			return domain.LifecycleEvent{}, noop, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.LifecycleEvent{}, noop, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.LifecycleEvent{}, noop, err
		}
		if len(res) != 2 {
			return domain.LifecycleEvent{}, noop, errors.New("redis queue: unexpected response")
		}
		var event domain.LifecycleEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return domain.LifecycleEvent{}, noop, fmt.Errorf("decode event: %w", err)
		}
		return event, noop, nil
	}
}
