package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"dqwatch/internal/storage"
)

type ingestRecord struct {
	Source    string            `json:"source"`
	MetricKey string            `json:"metric_key"`
	Value     float64           `json:"value"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Ingest replays a JSON batch file through the full pipeline: store the
// snapshots, evaluate alert rules, notify on new alerts.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	if opts.File == "" {
		return errors.New("--file is required")
	}
	if opts.Bucket.IsZero() {
		return errors.New("--bucket is required")
	}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		return err
	}

	var records []ingestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse %s: %w", opts.File, err)
	}
	if len(records) == 0 {
		return errors.New("batch file contains no measurements")
	}

	bucket := opts.Bucket.UTC()
	snapshots := make([]storage.MetricSnapshot, 0, len(records))
	for i, rec := range records {
		snapshot, err := storage.NewSnapshot(bucket, rec.Source, rec.MetricKey, rec.Value, rec.Meta)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		snapshots = append(snapshots, snapshot)
	}

	svc, closeEngine, err := a.engine(ctx, true)
	if err != nil {
		return err
	}
	defer closeEngine()

	result, err := svc.Ingest(ctx, bucket, snapshots)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "bucket %s: %d snapshots stored, %d alerts created (%s)\n",
		result.Bucket.Format("2006-01-02T15:04:05Z"),
		result.SnapshotsCreated,
		result.AlertsCreated,
		result.Duration,
	)
	return nil
}
