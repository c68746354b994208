package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTracker()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTracker() {
	c.Tracker.BaseURL = strings.TrimRight(strings.TrimSpace(c.Tracker.BaseURL), "/")
	if c.Tracker.Token == "" {
		if value, ok := os.LookupEnv("TRACKER_TOKEN"); ok {
			c.Tracker.Token = value
		}
	}
	if c.Tracker.BaseURL == "" {
		if value, ok := os.LookupEnv("TRACKER_URL"); ok {
			c.Tracker.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Tracker.Project = strings.TrimSpace(c.Tracker.Project)
	if c.Tracker.Project == "" {
		if value, ok := os.LookupEnv("TRACKER_PROJECT"); ok {
			c.Tracker.Project = strings.TrimSpace(value)
		}
	}
	c.Tracker.Query = strings.TrimSpace(c.Tracker.Query)
	c.Tracker.LabelPrefix = strings.TrimSpace(c.Tracker.LabelPrefix)
	if c.Tracker.LabelPrefix == "" {
		c.Tracker.LabelPrefix = defaultLabelPrefix
	}
	if c.Tracker.RequestTimeout <= 0 {
		c.Tracker.RequestTimeout = defaultTrackerTimeout
	}
	if c.Tracker.PageSize <= 0 {
		c.Tracker.PageSize = defaultTrackerPageSize
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.CollectInterval <= 0 {
		c.Workflow.CollectInterval = defaultCollectInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = defaultMaxAttempts
	}
	if c.Workflow.RetryBackoffBase <= 0 {
		c.Workflow.RetryBackoffBase = defaultRetryBackoffBase
	}
	if c.Workflow.RetryBackoffCap < c.Workflow.RetryBackoffBase {
		c.Workflow.RetryBackoffCap = defaultRetryBackoffCap
	}
	if c.Workflow.StageWorkers <= 0 {
		c.Workflow.StageWorkers = defaultStageWorkers
	}
	if c.Workflow.AgentTimeout <= 0 {
		c.Workflow.AgentTimeout = defaultAgentTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
