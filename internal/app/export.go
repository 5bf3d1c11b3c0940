package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"dqwatch/internal/quality"
	"dqwatch/internal/storage"
)

// Export renders the history of one metric as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Metric == "" {
		return errors.New("--metric is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireDBStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	table := a.thresholdTable()
	if _, ok := table.Lookup(opts.Metric); !ok {
		return errors.New("unknown metric: " + opts.Metric)
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.Query(ctx, storage.SnapshotFilter{
		MetricKey: opts.Metric,
		Since:     &from,
		Limit:     opts.MaxPoints,
	})
	if err != nil {
		return err
	}

	snapshots := make([]storage.MetricSnapshot, 0, len(rows))
	for _, row := range rows {
		if row.Bucket.After(to) {
			continue
		}
		snapshots = append(snapshots, row)
	}
	// Query returns newest first; charts and CSV want ascending time.
	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].Bucket.Equal(snapshots[j].Bucket) {
			return snapshots[i].Bucket.Before(snapshots[j].Bucket)
		}
		return snapshots[i].Source < snapshots[j].Source
	})

	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled, table); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.Metric, downsampled, table); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.MetricSnapshot, max int) []storage.MetricSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.MetricSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.MetricSnapshot, table *quality.Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "source", "metric_key", "value", "status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snapshot := range snapshots {
		record := []string{
			snapshot.Bucket.Format(time.RFC3339),
			snapshot.Source,
			snapshot.MetricKey,
			snapshot.Value.String(),
			string(table.Evaluate(snapshot.MetricKey, snapshot.Value.InexactFloat64())),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, metric string, snapshots []storage.MetricSnapshot, table *quality.Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bySource := make(map[string][]storage.MetricSnapshot)
	sources := make([]string, 0)
	for _, snapshot := range snapshots {
		if _, seen := bySource[snapshot.Source]; !seen {
			sources = append(sources, snapshot.Source)
		}
		bySource[snapshot.Source] = append(bySource[snapshot.Source], snapshot)
	}
	sort.Strings(sources)

	yAxisName := metric
	if def, ok := table.Lookup(metric); ok && def.Unit != "" {
		yAxisName = metric + " (" + def.Unit + ")"
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           yAxisName,
			ValueFormatter: valueFormatter,
		},
	}

	for _, source := range sources {
		rows := bySource[source]
		x := make([]time.Time, len(rows))
		y := make([]float64, len(rows))
		for i, row := range rows {
			x[i] = row.Bucket
			y[i] = row.Value.InexactFloat64()
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    source,
			XValues: x,
			YValues: y,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
