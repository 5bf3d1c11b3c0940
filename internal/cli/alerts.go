package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dqwatch/internal/app"
)

var (
	alertsStatus   string
	alertsSeverity string
	alertsSource   string
	alertsLimit    int
	alertNoteText  string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and manage alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.AlertsOptions{
			Status:   alertsStatus,
			Severity: alertsSeverity,
			Source:   alertsSource,
			Limit:    alertsLimit,
		}

		return getApp().Alerts(cmd.Context(), opts)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAlertID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetAlertStatus(cmd.Context(), id, "acked")
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAlertID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetAlertStatus(cmd.Context(), id, "resolved")
	},
}

var alertsNoteCmd = &cobra.Command{
	Use:   "note <id>",
	Short: "Attach an annotation to an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAlertID(args[0])
		if err != nil {
			return err
		}
		if strings.TrimSpace(alertNoteText) == "" {
			return errors.New("--text must not be empty")
		}
		return getApp().SetAlertNote(cmd.Context(), id, alertNoteText)
	},
}

func parseAlertID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid alert id %q", raw)
	}
	return id, nil
}

func init() {
	alertsCmd.Flags().StringVar(&alertsStatus, "status", "", "Filter by status (open, acked, resolved)")
	alertsCmd.Flags().StringVar(&alertsSeverity, "severity", "", "Filter by severity (info, warn, critical)")
	alertsCmd.Flags().StringVar(&alertsSource, "source", "", "Filter by source system")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")

	alertsNoteCmd.Flags().StringVar(&alertNoteText, "text", "", "Annotation text")

	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	alertsCmd.AddCommand(alertsNoteCmd)
}
