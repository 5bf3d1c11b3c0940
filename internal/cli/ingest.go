package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dqwatch/internal/app"
)

var (
	ingestFile   string
	ingestBucket string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Replay a JSON batch file through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.IngestOptions{File: ingestFile}

		if ingestBucket != "" {
			bucket, err := time.Parse(time.RFC3339, ingestBucket)
			if err != nil {
				return fmt.Errorf("invalid --bucket value: %w", err)
			}
			opts.Bucket = bucket
		}

		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "Path to a JSON array of measurements")
	ingestCmd.Flags().StringVar(&ingestBucket, "bucket", "", "Run timestamp the batch belongs to (RFC3339)")
}
