package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dqwatch/internal/producer"
	"dqwatch/internal/service"
	"dqwatch/internal/storage"
)

// Simulate pushes a single synthetic measurement through the full
// pipeline against an in-memory store, so alert rules and notification
// channels can be verified without touching the database.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no notification channel configured")
	}

	rules, err := a.rules()
	if err != nil {
		return err
	}

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	snapshot, err := storage.NewSnapshot(bucket, opts.Source, opts.Metric, opts.Value, map[string]string{"simulated": "true"})
	if err != nil {
		return err
	}

	prod := &producer.Static{Snapshots: []storage.MetricSnapshot{snapshot}}
	svc := service.New(nil, prod, storage.NewMemoryStore(), a.thresholdTable(), rules, notifier, a.conflictPolicy(), a.Logger)

	if err := svc.ProcessBucket(ctx, bucket); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "simulation complete; check the notification channel")
	return nil
}
