package telemetry

import (
	"context"
	"fmt"

	"github.com/amoylab/riderwatch/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewStore creates the configured store. Events are always logged as well.
func NewStore(logger *zap.Logger, cfg config.TelemetryConfig, client redis.UniversalClient) (Store, error) {
	logger.Info("Initializing rate limit telemetry", zap.String("type", cfg.Type))
	var store Store
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore(cfg.Capacity)
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis telemetry requires redis.addr")
		}
		store = NewRedisStore(logger, client, cfg.Stream, cfg.MaxLen)
	default:
		return nil, fmt.Errorf("unsupported telemetry type: %s", cfg.Type)
	}
	return &loggedStore{Reader: store, sink: Fanout{store, NewLogSink(logger)}}, nil
}

type loggedStore struct {
	Reader
	sink Sink
}

func (s *loggedStore) Report(ctx context.Context, ev Event) { s.sink.Report(ctx, ev) }
