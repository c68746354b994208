package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conveyor/internal/config"
)

func TestLoadDefaultConfigUsesEnvTrackerAndExpandsPaths(t *testing.T) {
	t.Setenv("TRACKER_URL", "https://issues.example.com")
	t.Setenv("TRACKER_TOKEN", "test-token")
	t.Setenv("TRACKER_PROJECT", "PKG")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "conveyor")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Tracker.BaseURL != "https://issues.example.com" {
		t.Fatalf("expected tracker url from env, got %q", cfg.Tracker.BaseURL)
	}
	if cfg.Tracker.Token != "test-token" {
		t.Fatalf("expected tracker token from env, got %q", cfg.Tracker.Token)
	}
	if cfg.Tracker.Project != "PKG" {
		t.Fatalf("expected tracker project from env, got %q", cfg.Tracker.Project)
	}
	if cfg.Tracker.LabelPrefix != "conveyor" {
		t.Fatalf("unexpected label prefix: %q", cfg.Tracker.LabelPrefix)
	}
	if cfg.Workflow.MaxAttempts != 4 {
		t.Fatalf("unexpected max attempts: %d", cfg.Workflow.MaxAttempts)
	}
}

func TestLoadParsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conveyor.toml")
	content := strings.Join([]string{
		`[tracker]`,
		`base_url = "https://issues.example.com/"`,
		`project = "PKG"`,
		`label_prefix = "herder"`,
		``,
		`[workflow]`,
		`max_attempts = 2`,
		`retry_backoff_base = 30`,
		`retry_backoff_cap = 600`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved == "" {
		t.Fatalf("expected config to exist at %q", path)
	}
	if cfg.Tracker.BaseURL != "https://issues.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Tracker.BaseURL)
	}
	if cfg.Tracker.LabelPrefix != "herder" {
		t.Fatalf("unexpected label prefix: %q", cfg.Tracker.LabelPrefix)
	}
	if cfg.Workflow.MaxAttempts != 2 {
		t.Fatalf("unexpected max attempts: %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.Workflow.RetryBackoffCap != 600 {
		t.Fatalf("unexpected backoff cap: %d", cfg.Workflow.RetryBackoffCap)
	}
}

func TestValidateRejectsMissingTracker(t *testing.T) {
	cfg := config.Default()
	cfg.Tracker.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when tracker.base_url missing")
	}
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	cfg := config.Default()
	cfg.Tracker.BaseURL = "https://issues.example.com"
	cfg.Tracker.Project = "PKG"
	cfg.Workflow.RetryBackoffBase = 600
	cfg.Workflow.RetryBackoffCap = 60
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for cap below base")
	}
}

func TestAgentCommandLookup(t *testing.T) {
	cfg := config.Default()
	cfg.Agents.Rebase = "  run-rebase --fast  "
	if got := cfg.AgentCommand("rebase"); got != "run-rebase --fast" {
		t.Fatalf("unexpected rebase command: %q", got)
	}
	if got := cfg.AgentCommand("unknown"); got != "" {
		t.Fatalf("expected empty command for unknown stage, got %q", got)
	}
}
