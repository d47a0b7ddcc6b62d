package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/mcpbridge/internal/agent"
)

const traceKeyPrefix = "trace:"

// redisSink appends each envelope to a per-request list with a TTL.
type redisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink connects to redis and returns a trace sink.
func NewRedisSink(ctx context.Context, addr, password string, db int, ttl time.Duration) (Sink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &redisSink{client: client, ttl: ttl}, nil
}

func (s *redisSink) Append(ctx context.Context, requestID string, msg agent.A2AMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := traceKeyPrefix + requestID
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}
