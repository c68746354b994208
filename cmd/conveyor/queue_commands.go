package main

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"conveyor/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-stage queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]table.Row, 0, len(stats))
			total := 0
			for _, stage := range queue.AllStages() {
				count, ok := stats[stage]
				if !ok {
					continue
				}
				rows = append(rows, table.Row{string(stage), count})
				total += count
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			rows = append(rows, table.Row{"total", total})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(table.Row{"Stage", "Items"}, rows))
			return nil
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var items []*queue.Item
			if stageFlag != "" {
				stage, ok := queue.ParseStage(stageFlag)
				if !ok {
					return fmt.Errorf("unknown stage %q", stageFlag)
				}
				// Single-stage listings come back in dispatch order.
				items, err = store.Peek(cmd.Context(), stage)
			} else {
				items, err = store.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No queue items")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(itemHeader(), itemRows(items)))
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only show items in the given stage")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show all passes recorded for an item key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No passes recorded for %s\n", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(itemHeader(), itemRows(items)))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [key ...]",
		Short: "Open fresh passes for errored items",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			keys, err := store.RetryErrored(cmd.Context(), args...)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No errored items to retry")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d item(s): %s\n", len(keys), strings.Join(keys, ", "))
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished, errored, and parked items",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			if allFlag {
				removed, err = store.Clear(cmd.Context())
			} else {
				removed, err = store.ClearTerminal(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&allFlag, "all", false, "Remove live items as well")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run queue database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			health := store.CheckHealth(cmd.Context())
			rows := []table.Row{
				{"database path", health.DBPath},
				{"database exists", yesNo(health.DatabaseExists)},
				{"database readable", yesNo(health.DatabaseReadable)},
				{"table exists", yesNo(health.TableExists)},
				{"integrity check", yesNo(health.IntegrityCheck)},
				{"total items", health.TotalItems},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(table.Row{"Check", "Result"}, rows))
			if health.Error != "" {
				return fmt.Errorf("queue database unhealthy: %s", health.Error)
			}
			return nil
		},
	}
}

func itemHeader() table.Row {
	return table.Row{"ID", "Key", "Stage", "Attempt", "Scheduled", "Outcome", "Detail"}
}

func itemRows(items []*queue.Item) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, table.Row{
			item.ID,
			item.ItemKey,
			string(item.Stage),
			item.AttemptCount,
			item.ScheduledAt.Local().Format(time.DateTime),
			item.LastOutcome,
			truncate(item.Detail, 60),
		})
	}
	return rows
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	// Cut on runes so a multibyte character is never split mid-sequence.
	runes := []rune(value)
	return string(runes[:limit-3]) + "..."
}
