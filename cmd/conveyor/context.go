package main

import (
	"sync"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

const skipConfigAnnotation = "conveyor_skip_config"

// commandContext lazily loads configuration shared across subcommands.
type commandContext struct {
	configFlag *string
	dryRunFlag *bool

	once    sync.Once
	cfg     *config.Config
	cfgPath string
	cfgErr  error
}

func newCommandContext(configFlag *string, dryRunFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, dryRunFlag: dryRunFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		cfg, path, _, err := config.Load(*c.configFlag)
		if err != nil {
			c.cfgErr = err
			return
		}
		cfg.DryRun = *c.dryRunFlag
		c.cfg = cfg
		c.cfgPath = path
	})
	return c.cfg, c.cfgErr
}

func (c *commandContext) configPath() string {
	return c.cfgPath
}

// openStore opens the queue database used by the daemon. The store uses WAL
// mode, so CLI reads and writes coexist with a running daemon.
func (c *commandContext) openStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func markSkipConfig(cmd *cobra.Command) {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[skipConfigAnnotation] = "true"
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for current := cmd; current != nil; current = current.Parent() {
		if current.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}
