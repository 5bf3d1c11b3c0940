package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dqwatch/internal/storage"
)

// Trend compares a metric across the two most recent distinct buckets.
type Trend struct {
	MetricKey      string          `json:"metric_key"`
	Source         string          `json:"source,omitempty"`
	LatestBucket   time.Time       `json:"latest_bucket"`
	PreviousBucket time.Time       `json:"previous_bucket"`
	Latest         decimal.Decimal `json:"latest"`
	Previous       decimal.Decimal `json:"previous"`
	Delta          decimal.Decimal `json:"delta"`
	Improved       bool            `json:"improved"`
}

// TrendCalculator derives run-over-run trends from stored snapshots.
type TrendCalculator struct {
	store storage.SnapshotStore
	table *Table
}

// NewTrendCalculator wires a snapshot store and threshold table.
func NewTrendCalculator(store storage.SnapshotStore, table *Table) *TrendCalculator {
	return &TrendCalculator{store: store, table: table}
}

// Trend returns the delta between the latest and the immediately preceding
// distinct bucket for metricKey, optionally restricted to one source. The
// buckets are the two most recent across the whole store; a metric absent
// from the latest run has no trend. Returns nil when no trend is available.
func (c *TrendCalculator) Trend(ctx context.Context, metricKey, source string) (*Trend, error) {
	buckets, err := c.store.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	if len(buckets) < 2 {
		return nil, nil
	}
	latestBucket, previousBucket := buckets[0], buckets[1]

	snapshots, err := c.store.Query(ctx, storage.SnapshotFilter{
		MetricKey: metricKey,
		Source:    source,
		Since:     &previousBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}

	latest := findInBucket(snapshots, latestBucket)
	previous := findInBucket(snapshots, previousBucket)
	if latest == nil || previous == nil {
		return nil, nil
	}

	delta := latest.Value.Sub(previous.Value)
	improved := delta.Sign() < 0
	if c.table.HigherIsBetter(metricKey) {
		improved = delta.Sign() > 0
	}

	return &Trend{
		MetricKey:      metricKey,
		Source:         source,
		LatestBucket:   latestBucket,
		PreviousBucket: previousBucket,
		Latest:         latest.Value,
		Previous:       previous.Value,
		Delta:          delta,
		Improved:       improved,
	}, nil
}

// findInBucket returns the most recently created snapshot for the bucket.
// Query order already places it first within its bucket.
func findInBucket(snapshots []storage.MetricSnapshot, bucket time.Time) *storage.MetricSnapshot {
	for i := range snapshots {
		if snapshots[i].Bucket.Equal(bucket) {
			return &snapshots[i]
		}
	}
	return nil
}
