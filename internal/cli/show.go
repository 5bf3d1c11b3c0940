package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dqwatch/internal/app"
)

var (
	showLimit  int
	showSource string
	showMetric string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent metric snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Source: showSource,
			Metric: showMetric,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of snapshots to display")
	showCmd.Flags().StringVar(&showSource, "source", "", "Filter by source system")
	showCmd.Flags().StringVar(&showMetric, "metric", "", "Filter by metric key")
}
