package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SnapshotStore defines operations for snapshot persistence.
type SnapshotStore interface {
	// IngestBatch appends a run's snapshots atomically with respect to
	// readers and returns the number of snapshots written. Concurrent
	// ingestion of the same bucket fails with ErrConcurrentRun.
	IngestBatch(ctx context.Context, bucket time.Time, snapshots []MetricSnapshot, policy ConflictPolicy) (int, error)
	Query(ctx context.Context, filter SnapshotFilter) ([]MetricSnapshot, error)
	// ListBuckets returns distinct bucket values across the whole store,
	// most recent first.
	ListBuckets(ctx context.Context) ([]time.Time, error)
}

// AlertStore defines operations for alert persistence.
type AlertStore interface {
	// CreateAlert inserts an alert unless one already covers the same
	// (rule, bucket) pair; created reports whether a row was written.
	CreateAlert(ctx context.Context, alert Alert) (stored Alert, created bool, err error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	GetAlert(ctx context.Context, id int64) (Alert, error)
	// UpdateAlertStatus performs a compare-and-swap from expect to next.
	// Fails with ErrNotFound or ErrStatusConflict.
	UpdateAlertStatus(ctx context.Context, id int64, expect, next AlertStatus) (Alert, error)
	SetAlertNote(ctx context.Context, id int64, note string) (Alert, error)
}

// Store bundles the snapshot and alert sides of one backend.
type Store interface {
	SnapshotStore
	AlertStore
}

// PoolConfig carries PostgreSQL connection pool settings.
type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
