package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"dqwatch/internal/storage"
)

// Alerts prints alerts filtered by status, severity, and source.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	svc, closeEngine, err := a.engine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	filter := storage.AlertFilter{
		Status:   storage.AlertStatus(opts.Status),
		Severity: storage.AlertSeverity(opts.Severity),
		Source:   opts.Source,
		Limit:    opts.Limit,
	}
	if filter.Status != "" && !storage.ValidAlertStatus(filter.Status) {
		return fmt.Errorf("invalid --status value %q", opts.Status)
	}
	if filter.Severity != "" && !storage.ValidSeverity(filter.Severity) {
		return fmt.Errorf("invalid --severity value %q", opts.Severity)
	}

	alerts, err := svc.ListAlerts(ctx, filter)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTriggered (UTC)\tSeverity\tStatus\tMessage\tNote")

	for _, alert := range alerts {
		note := ""
		if alert.Note != nil {
			note = sanitizeInline(*alert.Note)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID,
			alert.TriggeredAt.UTC().Format(time.RFC3339),
			alert.Severity,
			alert.Status,
			sanitizeInline(alert.Message),
			note,
		)
	}

	writer.Flush()
	return nil
}

// SetAlertStatus transitions one alert and prints the result.
func (a *App) SetAlertStatus(ctx context.Context, id int64, status string) error {
	svc, closeEngine, err := a.engine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	alert, err := svc.SetAlertStatus(ctx, id, storage.AlertStatus(status))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "alert %d is now %s\n", alert.ID, alert.Status)
	return nil
}

// SetAlertNote attaches a note to one alert.
func (a *App) SetAlertNote(ctx context.Context, id int64, text string) error {
	svc, closeEngine, err := a.engine(ctx, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	alert, err := svc.SetAlertNote(ctx, id, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "note saved on alert %d\n", alert.ID)
	return nil
}
