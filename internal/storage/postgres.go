package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// bucketLockNamespace salts per-bucket advisory lock keys so they cannot
// collide with other advisory lock users on the same database.
const bucketLockNamespace int64 = 0x64717774 // "dqwt"

const (
	upsertSnapshotSQL = `INSERT INTO metric_snapshots (
        ts_bucket,
        source,
        metric_key,
        metric_value,
        meta
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (ts_bucket, source, metric_key) DO UPDATE
    SET metric_value = EXCLUDED.metric_value,
        meta         = EXCLUDED.meta,
        created_at   = now();`

	bucketExistsSQL = `SELECT EXISTS (SELECT 1 FROM metric_snapshots WHERE ts_bucket = $1);`

	listBucketsSQL = `SELECT DISTINCT ts_bucket FROM metric_snapshots ORDER BY ts_bucket DESC;`

	selectSnapshotColumns = `SELECT id, ts_bucket, source, metric_key, metric_value, meta, created_at FROM metric_snapshots`

	insertAlertSQL = `INSERT INTO alerts (
        rule_id,
        rule_name,
        metric_key,
        source,
        severity,
        ts_bucket,
        triggered_at,
        metric_value,
        baseline_value,
        status,
        message
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (rule_id, ts_bucket) DO NOTHING
    RETURNING ` + alertColumns + `;`

	alertColumns = `id, rule_id, rule_name, metric_key, source, severity, ts_bucket, triggered_at, metric_value, baseline_value, status, message, note`

	selectAlertByRuleBucketSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE rule_id = $1 AND ts_bucket = $2;`

	selectAlertByIDSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`

	casAlertStatusSQL = `UPDATE alerts SET status = $3 WHERE id = $1 AND status = $2 RETURNING ` + alertColumns + `;`

	setAlertNoteSQL = `UPDATE alerts SET note = $2 WHERE id = $1 RETURNING ` + alertColumns + `;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore persists snapshots and alerts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// IngestBatch writes a run's snapshots inside a transaction, serialised per
// bucket with a postgres advisory lock.
func (s *PostgresStore) IngestBatch(ctx context.Context, bucket time.Time, snapshots []MetricSnapshot, policy ConflictPolicy) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	lockKey := bucketLockNamespace ^ bucket.UTC().Unix()
	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, lockKey).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		return 0, ErrConcurrentRun
	}
	defer func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, lockKey)
	}()

	if policy == ConflictReject {
		var exists bool
		if err := conn.QueryRow(ctx, bucketExistsSQL, bucket.UTC()).Scan(&exists); err != nil {
			return 0, fmt.Errorf("check bucket: %w", err)
		}
		if exists {
			return 0, ErrConcurrentRun
		}
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, snap := range snapshots {
		meta, err := encodeMeta(snap.Meta)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, upsertSnapshotSQL,
			bucket.UTC(),
			snap.Source,
			snap.MetricKey,
			snap.Value.String(),
			meta,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert snapshot %s/%s: %w", snap.Source, snap.MetricKey, err)
		}
		written += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit ingest tx: %w", err)
	}
	return written, nil
}

// Query returns snapshots ordered by bucket descending, most recently
// created first within a tied bucket.
func (s *PostgresStore) Query(ctx context.Context, filter SnapshotFilter) ([]MetricSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []interface{}
	)
	if filter.Source != "" {
		args = append(args, filter.Source)
		clauses = append(clauses, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.MetricKey != "" {
		args = append(args, filter.MetricKey)
		clauses = append(clauses, fmt.Sprintf("metric_key = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, filter.Since.UTC())
		clauses = append(clauses, fmt.Sprintf("ts_bucket >= $%d", len(args)))
	}

	query := selectSnapshotColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts_bucket DESC, created_at DESC, id DESC LIMIT $%d;", len(args))

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]MetricSnapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// ListBuckets lists distinct buckets across the store, most recent first.
func (s *PostgresStore) ListBuckets(ctx context.Context) ([]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBucketsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list buckets: %w", queryErr)
	}
	defer rows.Close()

	buckets := make([]time.Time, 0)
	for rows.Next() {
		var bucket time.Time
		if err := rows.Scan(&bucket); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return buckets, nil
}

// CreateAlert inserts an alert unless the (rule, bucket) pair already has one.
func (s *PostgresStore) CreateAlert(ctx context.Context, alert Alert) (Alert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, false, err
	}

	var baseline interface{}
	if alert.Baseline != nil {
		baseline = alert.Baseline.String()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.RuleID,
		alert.RuleName,
		alert.MetricKey,
		alert.Source,
		string(alert.Severity),
		alert.Bucket.UTC(),
		alert.TriggeredAt.UTC(),
		alert.Value.String(),
		baseline,
		string(alert.Status),
		alert.Message,
	)

	stored, scanErr := scanAlertRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			// Conflict: an alert already covers this (rule, bucket).
			existing := pool.QueryRow(ctx, selectAlertByRuleBucketSQL, alert.RuleID, alert.Bucket.UTC())
			stored, scanErr = scanAlertRow(existing)
			if scanErr != nil {
				return Alert{}, false, fmt.Errorf("load existing alert: %w", scanErr)
			}
			return stored, false, nil
		}
		return Alert{}, false, fmt.Errorf("insert alert: %w", scanErr)
	}
	return stored, true, nil
}

// ListAlerts lists alerts filtered by status, severity, and source.
func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		clauses = append(clauses, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		clauses = append(clauses, fmt.Sprintf("source = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY triggered_at DESC, id DESC LIMIT $%d;", len(args))

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0, limit)
	for rows.Next() {
		alert, scanErr := scanAlertRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// GetAlert loads one alert by id.
func (s *PostgresStore) GetAlert(ctx context.Context, id int64) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	alert, scanErr := scanAlertRow(pool.QueryRow(ctx, selectAlertByIDSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Alert{}, ErrNotFound
		}
		return Alert{}, fmt.Errorf("get alert: %w", scanErr)
	}
	return alert, nil
}

// UpdateAlertStatus swaps the alert's status if it still holds expect.
func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, id int64, expect, next AlertStatus) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	alert, scanErr := scanAlertRow(pool.QueryRow(ctx, casAlertStatusSQL, id, string(expect), string(next)))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			if _, getErr := s.GetAlert(ctx, id); getErr != nil {
				return Alert{}, getErr
			}
			return Alert{}, ErrStatusConflict
		}
		return Alert{}, fmt.Errorf("update alert status: %w", scanErr)
	}
	return alert, nil
}

// SetAlertNote replaces the alert's note without touching its status.
func (s *PostgresStore) SetAlertNote(ctx context.Context, id int64, note string) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	alert, scanErr := scanAlertRow(pool.QueryRow(ctx, setAlertNoteSQL, id, note))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Alert{}, ErrNotFound
		}
		return Alert{}, fmt.Errorf("set alert note: %w", scanErr)
	}
	return alert, nil
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return encoded, nil
}

func scanSnapshot(rows pgx.Rows) (MetricSnapshot, error) {
	var (
		snap     MetricSnapshot
		valueStr string
		meta     []byte
	)
	if err := rows.Scan(&snap.ID, &snap.Bucket, &snap.Source, &snap.MetricKey, &valueStr, &meta, &snap.CreatedAt); err != nil {
		return MetricSnapshot{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return MetricSnapshot{}, fmt.Errorf("parse metric value: %w", err)
	}
	snap.Value = value

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &snap.Meta); err != nil {
			return MetricSnapshot{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	return snap, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertRow(row rowScanner) (Alert, error) {
	var (
		alert       Alert
		severity    string
		status      string
		valueStr    string
		baselineStr sql.NullString
		note        sql.NullString
	)
	if err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.RuleName,
		&alert.MetricKey,
		&alert.Source,
		&severity,
		&alert.Bucket,
		&alert.TriggeredAt,
		&valueStr,
		&baselineStr,
		&status,
		&alert.Message,
		&note,
	); err != nil {
		return Alert{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse alert value: %w", err)
	}
	alert.Value = value
	alert.Severity = AlertSeverity(severity)
	alert.Status = AlertStatus(status)

	if baselineStr.Valid {
		baseline, err := decimal.NewFromString(baselineStr.String)
		if err != nil {
			return Alert{}, fmt.Errorf("parse baseline value: %w", err)
		}
		alert.Baseline = &baseline
	}
	if note.Valid {
		n := note.String
		alert.Note = &n
	}
	return alert, nil
}

var _ Store = (*PostgresStore)(nil)
