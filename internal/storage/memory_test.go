package storage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T, bucket time.Time, source, key string, value float64) MetricSnapshot {
	t.Helper()
	snap, err := NewSnapshot(bucket, source, key, value, nil)
	require.NoError(t, err)
	return snap
}

func TestNewSnapshotValidation(t *testing.T) {
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	_, err := NewSnapshot(time.Time{}, "crm", "duplicate_id_pct", 1, nil)
	require.True(t, IsValidation(err))

	_, err = NewSnapshot(bucket, "", "duplicate_id_pct", 1, nil)
	require.True(t, IsValidation(err))

	_, err = NewSnapshot(bucket, "crm", "", 1, nil)
	require.True(t, IsValidation(err))

	var validationErr *ValidationError
	_, err = NewSnapshot(bucket, "crm", "duplicate_id_pct", math.Inf(1), nil)
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "metric_value", validationErr.Field)

	_, err = NewSnapshot(bucket, "crm", "duplicate_id_pct", math.NaN(), nil)
	require.True(t, IsValidation(err))
}

func TestIngestBatchReplacePolicyIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	batch := []MetricSnapshot{
		snapshot(t, bucket, "crm", "duplicate_id_pct", 4),
		snapshot(t, bucket, "web", "duplicate_id_pct", 2),
	}

	written, err := store.IngestBatch(ctx, bucket, batch, ConflictReplace)
	require.NoError(t, err)
	require.Equal(t, 2, written)

	batch[0] = snapshot(t, bucket, "crm", "duplicate_id_pct", 9)
	written, err = store.IngestBatch(ctx, bucket, batch, ConflictReplace)
	require.NoError(t, err)
	require.Equal(t, 2, written)

	rows, err := store.Query(ctx, SnapshotFilter{Source: "crm"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "9", rows[0].Value.String())
}

func TestIngestBatchRejectPolicy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	batch := []MetricSnapshot{snapshot(t, bucket, "crm", "duplicate_id_pct", 4)}

	_, err := store.IngestBatch(ctx, bucket, batch, ConflictReject)
	require.NoError(t, err)

	_, err = store.IngestBatch(ctx, bucket, batch, ConflictReject)
	require.ErrorIs(t, err, ErrConcurrentRun)
}

func TestQueryFiltersOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	older := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	middle := older.Add(24 * time.Hour)
	newest := middle.Add(24 * time.Hour)

	for _, bucket := range []time.Time{older, middle, newest} {
		batch := []MetricSnapshot{
			snapshot(t, bucket, "crm", "duplicate_id_pct", 1),
			snapshot(t, bucket, "web", "missing_profile_pct", 2),
		}
		_, err := store.IngestBatch(ctx, bucket, batch, ConflictReplace)
		require.NoError(t, err)
	}

	rows, err := store.Query(ctx, SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.Equal(t, newest, rows[0].Bucket)
	require.Equal(t, older, rows[5].Bucket)

	rows, err = store.Query(ctx, SnapshotFilter{Source: "crm", MetricKey: "duplicate_id_pct"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	rows, err = store.Query(ctx, SnapshotFilter{Since: &middle})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	rows, err = store.Query(ctx, SnapshotFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestListBucketsDistinctNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	older := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	for _, bucket := range []time.Time{older, newer} {
		batch := []MetricSnapshot{
			snapshot(t, bucket, "crm", "duplicate_id_pct", 1),
			snapshot(t, bucket, "web", "duplicate_id_pct", 2),
		}
		_, err := store.IngestBatch(ctx, bucket, batch, ConflictReplace)
		require.NoError(t, err)
	}

	buckets, err := store.ListBuckets(ctx)
	require.NoError(t, err)
	require.Equal(t, []time.Time{newer, older}, buckets)
}

func TestIngestBatchConcurrentSameBucket(t *testing.T) {
	store := NewMemoryStore()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	// Hold the bucket as an in-flight ingest would.
	require.True(t, store.beginBucket(bucket))

	batch := []MetricSnapshot{snapshot(t, bucket, "crm", "duplicate_id_pct", 4)}
	_, err := store.IngestBatch(context.Background(), bucket, batch, ConflictReplace)
	require.ErrorIs(t, err, ErrConcurrentRun)

	store.endBucket(bucket)
	_, err = store.IngestBatch(context.Background(), bucket, batch, ConflictReplace)
	require.NoError(t, err)
}

func TestIngestBatchParallelDistinctBuckets(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bucket := base.Add(time.Duration(i) * 24 * time.Hour)
			batch := []MetricSnapshot{snapshot(t, bucket, "crm", "duplicate_id_pct", float64(i))}
			_, errs[i] = store.IngestBatch(context.Background(), bucket, batch, ConflictReplace)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "bucket %d", i)
	}

	buckets, err := store.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 8)
}

func makeAlert(ruleID int64, bucket time.Time) Alert {
	return Alert{
		RuleID:    ruleID,
		RuleName:  "duplicate_id_pct threshold",
		MetricKey: "duplicate_id_pct",
		Source:    "crm",
		Severity:  SeverityWarn,
		Bucket:    bucket,
		Status:    AlertOpen,
		Message:   "duplicate_id_pct on crm reached 9.00% (critical)",
	}
}

func TestCreateAlertIdempotentPerRuleAndBucket(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	first, created, err := store.CreateAlert(ctx, makeAlert(1, bucket))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := store.CreateAlert(ctx, makeAlert(1, bucket))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	_, created, err = store.CreateAlert(ctx, makeAlert(2, bucket))
	require.NoError(t, err)
	require.True(t, created)
}

func TestUpdateAlertStatusCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	alert, _, err := store.CreateAlert(ctx, makeAlert(1, bucket))
	require.NoError(t, err)

	updated, err := store.UpdateAlertStatus(ctx, alert.ID, AlertOpen, AlertAcked)
	require.NoError(t, err)
	require.Equal(t, AlertAcked, updated.Status)

	_, err = store.UpdateAlertStatus(ctx, alert.ID, AlertOpen, AlertResolved)
	require.ErrorIs(t, err, ErrStatusConflict)

	_, err = store.UpdateAlertStatus(ctx, 999, AlertOpen, AlertAcked)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetAlertNote(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	alert, _, err := store.CreateAlert(ctx, makeAlert(1, bucket))
	require.NoError(t, err)

	updated, err := store.SetAlertNote(ctx, alert.ID, "root cause: retry storm")
	require.NoError(t, err)
	require.NotNil(t, updated.Note)
	require.Equal(t, "root cause: retry storm", *updated.Note)
	require.Equal(t, AlertOpen, updated.Status)

	_, err = store.SetAlertNote(ctx, 999, "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListAlertsFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	open := makeAlert(1, bucket)
	critical := makeAlert(2, bucket)
	critical.Severity = SeverityCritical
	critical.Source = "web"

	_, _, err := store.CreateAlert(ctx, open)
	require.NoError(t, err)
	_, _, err = store.CreateAlert(ctx, critical)
	require.NoError(t, err)

	alerts, err := store.ListAlerts(ctx, AlertFilter{Status: AlertOpen})
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	alerts, err = store.ListAlerts(ctx, AlertFilter{Severity: SeverityCritical})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "web", alerts[0].Source)

	alerts, err = store.ListAlerts(ctx, AlertFilter{Source: "crm"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}
