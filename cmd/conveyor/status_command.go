package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
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

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}

			lockPath := filepath.Join(cfg.Paths.DataDir, "conveyord.lock")
			rows := []table.Row{
				{"daemon", daemonState(lockPath)},
				{"config", ctx.configPath()},
				{"queue db", store.Path()},
				{"items total", health.Total},
				{"waiting", health.Waiting},
				{"processing", health.Processing},
				{"done", health.Done},
				{"errored", health.Errored},
				{"parked", health.Parked},
			}
			if pid := readPIDFile(filepath.Join(cfg.Paths.DataDir, "conveyord.pid")); pid != "" {
				rows = append(rows, table.Row{"daemon pid", pid})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(table.Row{"Field", "Value"}, rows))
			return nil
		},
	}
}

// daemonState probes the daemon lock file. Taking and immediately releasing
// the lock is safe because the daemon holds it for its whole lifetime.
func daemonState(lockPath string) string {
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return "unknown"
	}
	if !ok {
		return "running"
	}
	_ = lock.Unlock()
	return "stopped"
}

func readPIDFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
