package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/stage"
)

// Start begins one dispatch loop per configured stage.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}

	type loop struct {
		stage     queue.Stage
		processor stage.Processor
		reclaims  bool
	}
	workers := m.cfg.Workflow.StageWorkers
	if workers < 1 {
		workers = 1
	}
	loops := make([]loop, 0, len(m.processors)*workers)
	for _, s := range queue.ActiveStages() {
		processor, ok := m.processors[s]
		if !ok {
			continue
		}
		// ClaimDue fences per item, so extra workers on one stage only add
		// concurrency across distinct items. The first loop overall doubles
		// as the stale-claim reclaimer.
		for w := 0; w < workers; w++ {
			loops = append(loops, loop{stage: s, processor: processor, reclaims: len(loops) == 0})
		}
	}
	if len(loops) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(loops))
	m.mu.Unlock()

	for _, l := range loops {
		go m.runStageLoop(runCtx, l.stage, l.processor, l.reclaims)
	}
	return nil
}

// Stop terminates background processing and waits for loops to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runStageLoop(ctx context.Context, s queue.Stage, processor stage.Processor, reclaims bool) {
	defer m.wg.Done()

	logger := m.logger.With(
		logging.String(logging.FieldComponent, "workflow"),
		logging.String(logging.FieldStage, string(s)),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if reclaims {
			if err := m.heartbeat.ReclaimStale(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reclaim stale claims failed; stuck items may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		item, token, err := m.claimNext(ctx, s)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if item == nil {
			m.waitForItemOrShutdown(ctx)
			continue
		}

		if err := m.processItem(ctx, logger, s, processor, item, token); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) claimNext(ctx context.Context, s queue.Stage) (*queue.Item, string, error) {
	token := newClaimToken()
	item, err := m.store.ClaimDue(ctx, s, token)
	if err != nil {
		return nil, "", err
	}
	return item, token, nil
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next queue item",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForItemOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
