package redisclient

import (
	"context"
	"fmt"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// New connects to redis in single, sentinel or cluster mode. It returns
// nil and no error when no address is configured.
func New(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	addrs := utils.SplitByMultipleDelimiters(cfg.Addr, ";", ",")
	opts := &redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if cfg.ClusterType != cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		opts.DB = cfg.DB
	}
	client := redis.NewUniversalClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
