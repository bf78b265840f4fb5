package notification

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueue pushes messages onto a list drained by Worker.
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
}

func NewRedisQueue(client redis.UniversalClient, queue string) *RedisQueue {
	return &RedisQueue{client: client, queue: queue}
}

func (q *RedisQueue) Dispatch(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.queue, payload).Err()
}

func (q *RedisQueue) Backend() string { return "redis" }
