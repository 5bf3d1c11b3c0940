package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"dqwatch/internal/storage"
)

// Show prints recent snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireDBStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snapshots, err := store.Query(ctx, storage.SnapshotFilter{
		Source:    opts.Source,
		MetricKey: opts.Metric,
		Limit:     opts.Limit,
	})
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	table := a.thresholdTable()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bucket (UTC)\tSource\tMetric\tValue\tStatus")

	for _, snap := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			snap.Bucket.UTC().Format(time.RFC3339),
			snap.Source,
			snap.MetricKey,
			snap.Value.StringFixed(2),
			table.Evaluate(snap.MetricKey, snap.Value.InexactFloat64()),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
