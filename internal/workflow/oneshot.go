package workflow

import (
	"context"
	"fmt"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

// RunToCompletion drives one item through the pipeline synchronously until it
// reaches a terminal stage. Retry and reschedule delays are not honored; the
// next attempt runs immediately. Used by manual one-off processing, typically
// against an isolated in-memory store.
func (m *Manager) RunToCompletion(ctx context.Context, key, metadata string) (*queue.Item, error) {
	item, _, err := m.store.Admit(ctx, key, metadata)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-oneshot"))

	// Upper bound on iterations so a pathological processor cannot spin the
	// loop forever: every live stage may burn its full retry budget plus
	// reschedules.
	budget := len(queue.ActiveStages()) * (m.cfg.Workflow.MaxAttempts + 2) * 2

	for iter := 0; item.IsLive(); iter++ {
		if iter >= budget {
			return item, fmt.Errorf("item %s did not reach a terminal stage after %d steps", key, iter)
		}
		if err := ctx.Err(); err != nil {
			return item, err
		}

		processor, ok := m.Processor(item.Stage)
		if !ok {
			return item, fmt.Errorf("no processor configured for stage %s", item.Stage)
		}

		token := newClaimToken()
		claimed, err := m.store.ClaimByID(ctx, item.ID, token)
		if err != nil {
			return item, fmt.Errorf("claim item: %w", err)
		}
		if claimed == nil {
			return item, fmt.Errorf("item %s is claimed by another dispatcher", key)
		}

		if err := m.processItem(ctx, logger, claimed.Stage, processor, claimed, token); err != nil {
			return item, err
		}

		item, err = m.store.GetByID(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, fmt.Errorf("item %s disappeared mid-run", key)
		}
	}
	return item, nil
}
