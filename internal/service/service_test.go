package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dqwatch/internal/alerting"
	"dqwatch/internal/producer"
	"dqwatch/internal/quality"
	"dqwatch/internal/storage"
)

func newTestService(t *testing.T, notifier alerting.Notifier) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	table := quality.NewTable(quality.DefaultThresholds())
	svc := New(nil, nil, store, table, alerting.DefaultRules(), notifier, storage.ConflictReplace, zerolog.Nop())
	return svc, store
}

func batchFor(t *testing.T, bucket time.Time, values map[string]float64) []storage.MetricSnapshot {
	t.Helper()
	batch := make([]storage.MetricSnapshot, 0, len(values))
	for key, value := range values {
		snap, err := storage.NewSnapshot(bucket, "crm", key, value, nil)
		require.NoError(t, err)
		batch = append(batch, snap)
	}
	return batch
}

type recordingNotifier struct {
	alerts []storage.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, alert storage.Alert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

func TestIngestCountsSnapshotsAndAlerts(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, notifier)
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	result, err := svc.Ingest(context.Background(), bucket, batchFor(t, bucket, map[string]float64{
		quality.MetricDuplicateIDPct:    9,
		quality.MetricMissingProfilePct: 1,
	}))
	require.NoError(t, err)
	require.Equal(t, bucket, result.Bucket)
	require.Equal(t, 2, result.SnapshotsCreated)
	require.Equal(t, 1, result.AlertsCreated)
	require.Len(t, notifier.alerts, 1)
	require.Equal(t, quality.MetricDuplicateIDPct, notifier.alerts[0].MetricKey)
}

func TestIngestReplayIsIdempotentForAlerts(t *testing.T) {
	svc, _ := newTestService(t, nil)
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	batch := batchFor(t, bucket, map[string]float64{quality.MetricDuplicateIDPct: 9})

	first, err := svc.Ingest(context.Background(), bucket, batch)
	require.NoError(t, err)
	require.Equal(t, 1, first.AlertsCreated)

	second, err := svc.Ingest(context.Background(), bucket, batch)
	require.NoError(t, err)
	require.Equal(t, 1, second.SnapshotsCreated)
	require.Equal(t, 0, second.AlertsCreated)
}

func TestIngestRejectsZeroBucket(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Ingest(context.Background(), time.Time{}, nil)
	require.True(t, storage.IsValidation(err))
}

func TestProcessBucketThroughProducer(t *testing.T) {
	store := storage.NewMemoryStore()
	table := quality.NewTable(quality.DefaultThresholds())
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	snap, err := storage.NewSnapshot(bucket, "crm", quality.MetricDuplicateIDPct, 9, nil)
	require.NoError(t, err)
	prod := &producer.Static{Snapshots: []storage.MetricSnapshot{snap}}

	svc := New(nil, prod, store, table, alerting.DefaultRules(), nil, storage.ConflictReplace, zerolog.Nop())
	require.NoError(t, svc.ProcessBucket(context.Background(), bucket))

	rows, err := svc.Query(context.Background(), storage.SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	alerts, err := svc.ListAlerts(context.Background(), storage.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestComputeScoreUsesLatestBucketOnly(t *testing.T) {
	svc, _ := newTestService(t, nil)

	older := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	_, err := svc.Ingest(context.Background(), older, batchFor(t, older, map[string]float64{
		quality.MetricMissingProfilePct:         60,
		quality.MetricAttributableConversionPct: 100,
	}))
	require.NoError(t, err)

	newer := older.Add(24 * time.Hour)
	_, err = svc.Ingest(context.Background(), newer, batchFor(t, newer, map[string]float64{
		quality.MetricMissingProfilePct:         0,
		quality.MetricAttributableConversionPct: 100,
	}))
	require.NoError(t, err)

	result, err := svc.ComputeScore(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 100, result.Score)
	require.Equal(t, quality.LabelHigh, result.Label)
}

func TestComputeScoreEmptyStore(t *testing.T) {
	svc, _ := newTestService(t, nil)

	result, err := svc.ComputeScore(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 70, result.Score, "missing conversion input carries the full conversion penalty")
	require.Equal(t, quality.LabelMedium, result.Label)
}

func TestAlertLifecycleThroughService(t *testing.T) {
	svc, _ := newTestService(t, nil)
	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	result, err := svc.Ingest(context.Background(), bucket, batchFor(t, bucket, map[string]float64{
		quality.MetricDuplicateIDPct: 9,
	}))
	require.NoError(t, err)
	require.Equal(t, 1, result.AlertsCreated)

	alerts, err := svc.ListAlerts(context.Background(), storage.AlertFilter{Status: storage.AlertOpen})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	updated, err := svc.SetAlertStatus(context.Background(), alerts[0].ID, storage.AlertAcked)
	require.NoError(t, err)
	require.Equal(t, storage.AlertAcked, updated.Status)

	_, err = svc.SetAlertNote(context.Background(), alerts[0].ID, "traced to retry storm")
	require.NoError(t, err)

	_, err = svc.SetAlertStatus(context.Background(), alerts[0].ID, storage.AlertOpen)
	require.ErrorIs(t, err, alerting.ErrInvalidTransition)
}
