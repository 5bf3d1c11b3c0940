package cli

import (
	"github.com/spf13/cobra"
)

var scoreSource string

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Print the composite data confidence score for the latest run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Score(cmd.Context(), scoreSource)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreSource, "source", "", "Score a single source instead of all sources")
}
