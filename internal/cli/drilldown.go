package cli

import (
	"github.com/spf13/cobra"
)

var drilldownCmd = &cobra.Command{
	Use:   "drilldown <metric>",
	Short: "Break a metric down by source with recommended actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Drilldown(cmd.Context(), args[0])
	},
}
