package workflow

import (
	"context"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	DryRun      bool
	LastError   string
	LastItem    *queue.Item
	QueueStats  map[queue.Stage]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastItem := m.lastItem
	processors := make(map[queue.Stage]stage.Processor, len(m.processors))
	for s, p := range m.processors {
		processors[s] = p
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(processors))
	for s, p := range processors {
		health[string(s)] = p.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:     running,
		DryRun:      m.cfg.DryRun,
		QueueStats:  stats,
		StageHealth: health,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastItem != nil {
		cp := *lastItem
		summary.LastItem = &cp
	}
	return summary
}
