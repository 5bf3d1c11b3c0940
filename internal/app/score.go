package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// scoreDriversShown limits the drivers printed beneath the score.
const scoreDriversShown = 2

// Score prints the composite confidence score and its top drivers.
func (a *App) Score(ctx context.Context, source string) error {
	svc, closeEngine, err := a.engine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	result, err := svc.ComputeScore(ctx, source)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Confidence score: %d/100 (%s)\n", result.Score, result.Label)
	for _, driver := range result.TopDrivers(scoreDriversShown) {
		fmt.Fprintf(os.Stdout, "  - %s\n", driver)
	}
	return nil
}

// Drilldown prints the per-source breakdown for one metric.
func (a *App) Drilldown(ctx context.Context, metric string) error {
	svc, closeEngine, err := a.engine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	result, err := svc.Drilldown(ctx, metric)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s (%s)\n", result.MetricKey, result.Definition.Unit)
	if result.Definition.Description != "" {
		fmt.Fprintln(os.Stdout, result.Definition.Description)
	}
	fmt.Fprintln(os.Stdout)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tBucket\tValue\tStatus")
	for _, row := range result.BreakdownBySource {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", row.Source, row.Bucket, row.Value.StringFixed(2), row.Status)
	}
	writer.Flush()

	fmt.Fprintln(os.Stdout, "\nRecommended actions:")
	for _, action := range result.RecommendedActions {
		fmt.Fprintf(os.Stdout, "  - %s\n", action)
	}
	return nil
}

// TrendReport prints the run-over-run trend for one metric.
func (a *App) TrendReport(ctx context.Context, metric, source string) error {
	svc, closeEngine, err := a.engine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	trend, err := svc.Trend(ctx, metric, source)
	if err != nil {
		return err
	}
	if trend == nil {
		fmt.Fprintln(os.Stdout, "no trend available (need the metric in the two most recent runs)")
		return nil
	}

	direction := "worsened"
	if trend.Improved {
		direction = "improved"
	}
	fmt.Fprintf(os.Stdout, "%s: %s -> %s (delta %s, %s)\n",
		metric,
		trend.Previous.StringFixed(2),
		trend.Latest.StringFixed(2),
		trend.Delta.StringFixed(2),
		direction,
	)
	return nil
}
