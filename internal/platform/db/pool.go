package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSettings sizes the connection pool backing the audit trail. Zero
// fields fall back to defaults suitable for the write-heavy audit
// workload (one insert per evaluation plus short window queries).
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	PingTimeout     time.Duration
}

func (s PoolSettings) withDefaults() PoolSettings {
	if s.MaxConns <= 0 {
		s.MaxConns = 20
	}
	if s.MinConns <= 0 {
		s.MinConns = 5
	}
	if s.MaxConnLifetime <= 0 {
		s.MaxConnLifetime = 30 * time.Minute
	}
	if s.PingTimeout <= 0 {
		s.PingTimeout = 5 * time.Second
	}
	return s
}

// NewPool connects to the audit database and verifies reachability before
// returning. The service refuses to start on an unreachable database
// rather than discovering it on the first audit write.
func NewPool(ctx context.Context, databaseURL string, settings PoolSettings) (*pgxpool.Pool, error) {
	settings = settings.withDefaults()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = settings.MaxConns
	cfg.MinConns = settings.MinConns
	cfg.MaxConnLifetime = settings.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, settings.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	return pool, nil
}
