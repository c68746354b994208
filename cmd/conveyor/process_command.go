package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
	"conveyor/internal/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var metadataFlag string
	var isolatedFlag bool

	cmd := &cobra.Command{
		Use:   "process <key>",
		Short: "Run a single item through the pipeline and wait for it to finish",
		Long: "Process admits one item and drives it through every stage in the " +
			"current process, honoring the configured agents and retry budget but " +
			"not retry delays. With --isolated the item runs against a throwaway " +
			"in-memory queue and leaves the shared queue untouched; --dry-run " +
			"implies --isolated.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			metadata, err := stage.NormalizeMetadata(metadataFlag)
			if err != nil {
				return fmt.Errorf("invalid --metadata: %w", err)
			}

			var store *queue.Store
			if isolatedFlag || cfg.DryRun {
				// Dry runs must leave the shared queue untouched, so they
				// always use the throwaway store.
				store, err = queue.OpenEphemeral()
			} else {
				store, err = ctx.openStore()
			}
			if err != nil {
				return err
			}
			defer store.Close()

			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           "console",
				OutputPaths:      []string{"stderr"},
				ErrorOutputPaths: []string{"stderr"},
			})
			if err != nil {
				return err
			}

			manager := workflow.NewManager(cfg, store, logger)
			if err := manager.ConfigureAgents(logger); err != nil {
				return err
			}

			item, err := manager.RunToCompletion(cmd.Context(), args[0], metadata)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s finished in stage %s", item.ItemKey, item.Stage)
			if item.Detail != "" {
				fmt.Fprintf(cmd.OutOrStdout(), ": %s", item.Detail)
			}
			fmt.Fprintln(cmd.OutOrStdout())

			if item.Stage == queue.StageError {
				return fmt.Errorf("item %s ended in error", item.ItemKey)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metadataFlag, "metadata", "", "JSON metadata to attach to the item")
	cmd.Flags().BoolVar(&isolatedFlag, "isolated", false, "Process against an in-memory queue")
	return cmd
}
