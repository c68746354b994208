package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTracker(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTracker() error {
	if strings.TrimSpace(c.Tracker.BaseURL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/conveyor/config.toml"
		}
		return fmt.Errorf("tracker.base_url is required. Set TRACKER_URL env var or edit %s (create with 'conveyor config init')", defaultPath)
	}
	if !strings.HasPrefix(c.Tracker.BaseURL, "http://") && !strings.HasPrefix(c.Tracker.BaseURL, "https://") {
		return fmt.Errorf("tracker.base_url %q must start with http:// or https://", c.Tracker.BaseURL)
	}
	if strings.TrimSpace(c.Tracker.Query) == "" && strings.TrimSpace(c.Tracker.Project) == "" {
		return errors.New("tracker.query or tracker.project must be set so the collector can scan for work")
	}
	if strings.ContainsAny(c.Tracker.LabelPrefix, " \t") {
		return fmt.Errorf("tracker.label_prefix %q must not contain whitespace", c.Tracker.LabelPrefix)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	if c.Workflow.RetryBackoffCap < c.Workflow.RetryBackoffBase {
		return errors.New("workflow.retry_backoff_cap must be >= workflow.retry_backoff_base")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}
