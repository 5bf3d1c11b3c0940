package cli

import (
	"github.com/spf13/cobra"
)

var trendSource string

var trendCmd = &cobra.Command{
	Use:   "trend <metric>",
	Short: "Compare a metric between the two most recent runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TrendReport(cmd.Context(), args[0], trendSource)
	},
}

func init() {
	trendCmd.Flags().StringVar(&trendSource, "source", "", "Restrict the comparison to one source")
}
