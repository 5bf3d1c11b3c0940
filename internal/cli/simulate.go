package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dqwatch/internal/app"
)

var (
	simulateSource string
	simulateMetric string
	simulateValue  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-run",
	Short: "Push a synthetic measurement through rules and notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSource == "" || simulateMetric == "" {
			return errors.New("--source and --metric are required")
		}

		opts := app.SimulateOptions{
			Source: simulateSource,
			Metric: simulateMetric,
			Value:  simulateValue,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSource, "source", "", "Source system name")
	simulateCmd.Flags().StringVar(&simulateMetric, "metric", "", "Metric key")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "Metric value")
}
