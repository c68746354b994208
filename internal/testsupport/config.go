package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Tracker.BaseURL = "http://tracker.invalid"
	cfgVal.Tracker.Token = "test-token"
	cfgVal.Workflow.QueuePollInterval = 0
	cfgVal.Workflow.ErrorRetryInterval = 0
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.HeartbeatTimeout = 10

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTrackerURL points the test config at a live test server.
func WithTrackerURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tracker.BaseURL = url
	}
}

// WithLabelPrefix overrides the marker prefix on the test config.
func WithLabelPrefix(prefix string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tracker.LabelPrefix = prefix
	}
}

// WithDryRun enables dry-run mode on the test config.
func WithDryRun() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.DryRun = true
	}
}
