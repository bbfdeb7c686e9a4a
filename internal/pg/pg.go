// Package pg wraps pgxpool for the coordinator's Postgres-backed stores:
// tokenstore/pgstore and the trace log's Postgres Storage implementation.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyzr/coordinator/internal/config"
	"github.com/lyzr/coordinator/internal/logger"
)

// Pool wraps pgxpool.Pool with the connection lifecycle logging every other
// ambient package in this tree carries.
type Pool struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New opens a connection pool sized per cfg and verifies connectivity with a
// bounded ping before returning.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("pg: parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	log.Info("postgres connected", "host", cfg.Database.Host, "database", cfg.Database.Database)
	return &Pool{Pool: pool, log: log}, nil
}

// Close releases the pool's connections.
func (p *Pool) Close() {
	p.log.Info("closing postgres pool")
	p.Pool.Close()
}

// Health pings the pool with a short deadline, for readiness probes.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.Pool.Ping(ctx)
}
