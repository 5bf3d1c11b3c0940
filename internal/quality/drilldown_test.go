package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dqwatch/internal/storage"
)

func TestDrilldownBreakdownAndOffenders(t *testing.T) {
	store := storage.NewMemoryStore()
	analyzer := NewAnalyzer(store, NewTable(DefaultThresholds()), nil)

	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	seedBucket(t, store, bucket, "billing", MetricDuplicateIDPct, 2)
	seedBucket(t, store, bucket, "web", MetricDuplicateIDPct, 8)

	result, err := analyzer.Drilldown(context.Background(), MetricDuplicateIDPct)
	require.NoError(t, err)

	require.Equal(t, MetricDuplicateIDPct, result.MetricKey)
	require.Len(t, result.BreakdownBySource, 2)
	require.Equal(t, "billing", result.BreakdownBySource[0].Source)
	require.Equal(t, StatusOK, result.BreakdownBySource[0].Status)
	require.Equal(t, "web", result.BreakdownBySource[1].Source)
	require.Equal(t, StatusWarning, result.BreakdownBySource[1].Status)

	// Worst value first regardless of alphabetical order.
	require.Equal(t, "web", result.TopOffenders[0].Source)
	require.NotEmpty(t, result.RecommendedActions)
}

func TestDrilldownUsesLatestValuePerSource(t *testing.T) {
	store := storage.NewMemoryStore()
	analyzer := NewAnalyzer(store, NewTable(DefaultThresholds()), nil)

	older := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedBucket(t, store, older, "web", MetricDuplicateIDPct, 20)
	seedBucket(t, store, older.Add(24*time.Hour), "web", MetricDuplicateIDPct, 1)

	result, err := analyzer.Drilldown(context.Background(), MetricDuplicateIDPct)
	require.NoError(t, err)
	require.Len(t, result.BreakdownBySource, 1)
	require.Equal(t, "1", result.BreakdownBySource[0].Value.String())
}

func TestDrilldownUnknownMetric(t *testing.T) {
	store := storage.NewMemoryStore()
	analyzer := NewAnalyzer(store, NewTable(DefaultThresholds()), nil)

	_, err := analyzer.Drilldown(context.Background(), "made_up_metric")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownMetric))
}

func TestDrilldownInvertedMetricOffenderOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	analyzer := NewAnalyzer(store, NewTable(DefaultThresholds()), nil)

	bucket := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	seedBucket(t, store, bucket, "crm", MetricAttributableConversionPct, 95)
	seedBucket(t, store, bucket, "web", MetricAttributableConversionPct, 40)

	result, err := analyzer.Drilldown(context.Background(), MetricAttributableConversionPct)
	require.NoError(t, err)
	require.Equal(t, "web", result.TopOffenders[0].Source, "lowest conversion is the worst offender")
}
