package telemetry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventField = "event"

// RedisStore appends events to a capped redis stream
type RedisStore struct {
	logger *zap.Logger
	client redis.UniversalClient
	stream string
	maxLen int64
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a stream-backed store
func NewRedisStore(logger *zap.Logger, client redis.UniversalClient, stream string, maxLen int64) *RedisStore {
	return &RedisStore{
		logger: logger.Named("telemetry.redis"),
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Report implements Sink
func (r *RedisStore) Report(ctx context.Context, ev Event) {
	ev = normalize(ev)
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to marshal rate limit event", zap.Error(err))
		return
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{eventField: data},
	}).Err()
	if err != nil {
		r.logger.Error("failed to publish rate limit event",
			zap.String("tenant", ev.Tenant),
			zap.Error(err))
	}
}

// Recent implements Reader
func (r *RedisStore) Recent(ctx context.Context, tenant string, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	// filtering by tenant happens client-side, so over-read a bounded window
	count := int64(limit)
	if tenant != "" {
		count = int64(limit) * 10
	}
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, limit)
	for _, msg := range msgs {
		raw, ok := msg.Values[eventField].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			r.logger.Warn("skipping undecodable rate limit event", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if tenant != "" && ev.Tenant != tenant {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
