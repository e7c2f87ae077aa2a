// Package redisclient constructs the shared go-redis client used by the
// automation aggregation window (pkg/automation) and the robot auth replay
// nonce cache (pkg/orchestrator).
package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/destiny/pkg/config"
)

// NewClient dials redis and verifies connectivity with a PING before
// returning.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
