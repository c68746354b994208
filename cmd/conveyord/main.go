package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string
	var dryRunFlag bool
	var developmentFlag bool

	cmd := &cobra.Command{
		Use:           "conveyord",
		Short:         "Conveyor pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configFlag)
			if err != nil {
				return err
			}
			cfg.DryRun = dryRunFlag
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevelFlag,
				Development: developmentFlag,
			})
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Override configured log level")
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Log intended writes without performing them")
	cmd.Flags().BoolVar(&developmentFlag, "development", false, "Enable verbose development logging")

	return cmd
}
