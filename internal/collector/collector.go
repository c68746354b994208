package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/reflector"
	"conveyor/internal/services/tracker"
)

// Collector scans the tracker and admits work into the queue.
type Collector struct {
	cfg      *config.Config
	store    *queue.Store
	tracker  tracker.API
	markers  reflector.Markers
	logger   *slog.Logger
	interval time.Duration
}

// Result summarizes one collection pass.
type Result struct {
	Scanned    int
	Admitted   int
	Readmitted int
	Skipped    int
}

// New builds a collector.
func New(cfg *config.Config, store *queue.Store, api tracker.API, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Collector{
		cfg:      cfg,
		store:    store,
		tracker:  api,
		markers:  reflector.NewMarkers(cfg.Tracker.LabelPrefix),
		logger:   logger.With(logging.String(logging.FieldComponent, "collector")),
		interval: time.Duration(cfg.Workflow.CollectInterval) * time.Second,
	}
}

// Run performs a collection pass immediately and then on every interval tick
// until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	interval := c.interval
	if interval <= 0 {
		interval = 20 * time.Minute
	}

	c.collectAndLog(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectAndLog(ctx)
		}
	}
}

func (c *Collector) collectAndLog(ctx context.Context) {
	result, err := c.CollectOnce(ctx)
	if err != nil {
		c.logger.Warn("collection pass failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "collect_failed"),
			logging.String(logging.FieldErrorHint, "check tracker connectivity and credentials"),
		)
		return
	}
	c.logger.Info("collection pass finished",
		logging.String(logging.FieldEventType, "collect_complete"),
		logging.Int("scanned", result.Scanned),
		logging.Int("admitted", result.Admitted),
		logging.Int("readmitted", result.Readmitted),
		logging.Int("skipped", result.Skipped),
	)
}

// CollectOnce runs a single scan of the tracker query.
func (c *Collector) CollectOnce(ctx context.Context) (Result, error) {
	var result Result

	issues, err := c.tracker.Search(ctx, c.cfg.Tracker.Query)
	if err != nil {
		return result, err
	}

	for _, issue := range issues {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Scanned++

		retryRequested := c.markers.RetryRequested(issue.Labels)
		if !retryRequested && c.hasPipelineMarker(issue.Labels) {
			// Any pipeline marker, in-progress or terminal, means the issue
			// was already picked up; without an operator retry request it
			// stays out, even if the label lags a cleared database.
			result.Skipped++
			continue
		}

		metadata := buildMetadata(issue)
		if c.cfg.DryRun {
			c.logger.Info("dry run: would admit issue",
				logging.String(logging.FieldItemKey, issue.Key),
				logging.Bool("retry_requested", retryRequested),
			)
			result.Admitted++
			continue
		}

		_, admitted, err := c.store.Admit(ctx, issue.Key, metadata)
		if err != nil {
			return result, err
		}
		switch {
		case admitted && retryRequested:
			result.Readmitted++
		case admitted:
			result.Admitted++
		default:
			result.Skipped++
		}

		if admitted {
			c.logger.Info("admitted issue",
				logging.String(logging.FieldItemKey, issue.Key),
				logging.Bool("retry_requested", retryRequested),
			)
		}
		if retryRequested {
			// Consume the operator's request whether or not a new pass was
			// opened, otherwise every scan would re-trigger.
			if err := c.tracker.RemoveLabel(ctx, issue.Key, c.markers.RetryNeeded()); err != nil {
				c.logger.Warn("failed to clear retry marker",
					logging.String(logging.FieldItemKey, issue.Key),
					logging.Error(err),
				)
			}
		}
	}
	return result, nil
}

func (c *Collector) hasPipelineMarker(labels []string) bool {
	for _, label := range labels {
		if c.markers.Owns(label) && label != c.markers.RetryNeeded() {
			return true
		}
	}
	return false
}

func buildMetadata(issue tracker.Issue) string {
	payload := struct {
		Summary string   `json:"summary,omitempty"`
		Labels  []string `json:"labels,omitempty"`
	}{
		Summary: issue.Summary,
		Labels:  issue.Labels,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
