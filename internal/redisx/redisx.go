// Package redisx wires the one Redis concern the coordinator core has: the
// trace Hub's cross-process pub/sub relay (spec §4.6). Everything else in
// the coordinator — context store, token store, trace persistence — goes
// through Postgres or memory, never Redis.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/coordinator/internal/config"
)

// NewClient builds a go-redis client from cfg and verifies connectivity.
// Returns (nil, nil) when cfg.Enabled is false, so callers can pass the
// result straight into trace.NewHub without a branch at every call site.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redisx: ping: %w", err)
	}
	return client, nil
}
