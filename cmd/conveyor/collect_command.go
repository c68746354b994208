package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/collector"
	"conveyor/internal/logging"
	"conveyor/internal/services/tracker"
)

func newCollectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run a single tracker scan and admit matching issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := tracker.New(cfg)
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           "console",
				OutputPaths:      []string{"stderr"},
				ErrorOutputPaths: []string{"stderr"},
			})
			if err != nil {
				return err
			}

			result, err := collector.New(cfg, store, client, logger).CollectOnce(cmd.Context())
			if err != nil {
				return err
			}

			mode := ""
			if cfg.DryRun {
				mode = " (dry run)"
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Scanned %d issue(s)%s: %d admitted, %d readmitted, %d skipped\n",
				result.Scanned, mode, result.Admitted, result.Readmitted, result.Skipped)
			return nil
		},
	}
}
