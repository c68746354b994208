package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

func newClaimToken() string {
	return uuid.NewString()
}

func (m *Manager) processItem(ctx context.Context, loopLogger *slog.Logger, s queue.Stage, processor stage.Processor, item *queue.Item, token string) error {
	stageCtx := services.WithItemID(ctx, item.ID)
	stageCtx = services.WithItemKey(stageCtx, item.ItemKey)
	stageCtx = services.WithStage(stageCtx, string(s))
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	logger := logging.WithContext(stageCtx, loopLogger)

	started := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int(logging.FieldAttempt, item.AttemptCount),
	)

	outcome, procErr := m.invokeWithHeartbeat(stageCtx, processor, item, token)
	if procErr != nil && errors.Is(procErr, context.Canceled) {
		// Shutdown mid-stage: release so another run can pick the item up.
		if relErr := m.store.Release(context.Background(), item.ID, token); relErr != nil && !errors.Is(relErr, queue.ErrClaimLost) {
			logger.Warn("release on shutdown failed", logging.Error(relErr))
		}
		return procErr
	}
	if procErr != nil {
		outcome = m.outcomeForError(procErr)
		logger.Warn("stage processor failed",
			logging.Error(procErr),
			logging.String(logging.FieldOutcome, string(outcome.Kind)),
		)
		m.setLastError(procErr)
	}

	transition, next := m.planTransition(item, s, outcome)
	if err := m.store.CommitTransition(stageCtx, item.ID, token, transition); err != nil {
		if errors.Is(err, queue.ErrClaimLost) {
			logger.Warn("claim lost before commit; discarding stage result",
				logging.String(logging.FieldEventType, "claim_lost"),
			)
			return nil
		}
		wrapped := fmt.Errorf("persist stage result: %w", err)
		logger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	committed := *item
	committed.Stage = next
	committed.AttemptCount = transition.AttemptCount
	committed.LastOutcome = transition.Outcome
	committed.Detail = transition.Detail
	committed.ScheduledAt = transition.ScheduledAt
	committed.ClaimToken = ""
	m.setLastItem(&committed)

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String(logging.FieldOutcome, transition.Outcome),
		logging.String("next_stage", string(next)),
		logging.Duration("stage_duration", time.Since(started)),
	)

	m.afterCommit(stageCtx, &committed)
	return nil
}

func (m *Manager) invokeWithHeartbeat(ctx context.Context, processor stage.Processor, item *queue.Item, token string) (stage.Outcome, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, item.ID, token)

	req := stage.Request{
		Key:     item.ItemKey,
		Stage:   string(item.Stage),
		Attempt: item.AttemptCount,
		DryRun:  m.cfg.DryRun,
	}
	if item.MetadataJSON != "" {
		req.Metadata = json.RawMessage(item.MetadataJSON)
	}

	outcome, err := invokeProcessor(ctx, processor, req)
	hbCancel()
	hbWG.Wait()
	return outcome, err
}

// invokeProcessor converts a processor panic into a transient error so one
// bad item cannot take the whole stage loop down.
func invokeProcessor(ctx context.Context, processor stage.Processor, req stage.Request) (outcome stage.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(
				services.ErrTransient, req.Stage, "process",
				fmt.Sprintf("Stage processor panicked: %v", r), nil)
		}
	}()
	return processor.Process(ctx, req)
}

// outcomeForError maps a classified processor error onto a synthetic outcome.
func (m *Manager) outcomeForError(err error) stage.Outcome {
	detail := services.Message(err)
	switch services.Classify(err) {
	case services.FailurePermanent:
		return stage.Fail(detail)
	case services.FailureAmbiguous:
		return stage.Park(detail)
	default:
		return stage.Retry(detail)
	}
}

// planTransition applies the transition policy to a stage outcome.
func (m *Manager) planTransition(item *queue.Item, current queue.Stage, outcome stage.Outcome) (queue.Transition, queue.Stage) {
	now := time.Now().UTC()
	t := queue.Transition{
		Outcome:      string(outcome.Kind),
		Detail:       outcome.Detail,
		ScheduledAt:  now,
		AttemptCount: item.AttemptCount,
	}

	switch outcome.Kind {
	case stage.KindAdvance:
		next := nextStage(current)
		if outcome.Next != "" {
			if parsed, ok := queue.ParseStage(outcome.Next); ok && !parsed.IsTerminal() {
				next = parsed
			}
		}
		t.NextStage = next
		t.AttemptCount = 0
	case stage.KindDone:
		t.NextStage = queue.StageDone
	case stage.KindRetry:
		// The attempt counter may reach the budget exactly once: an item at
		// attempt max-1 still gets its final retry, and only a further Retry
		// at the budget forces the failure.
		if item.AttemptCount >= m.cfg.Workflow.MaxAttempts {
			t.NextStage = queue.StageError
			t.Outcome = string(stage.KindFail)
			t.Detail = fmt.Sprintf("retry budget exhausted after %d attempts: %s", item.AttemptCount, outcome.Detail)
		} else {
			attempts := item.AttemptCount + 1
			t.NextStage = current
			t.AttemptCount = attempts
			t.ScheduledAt = now.Add(m.retry.DelayForAttempt(attempts))
		}
	case stage.KindReschedule:
		delay := outcome.Delay
		if delay <= 0 {
			delay = m.pollInterval
		}
		t.NextStage = current
		t.ScheduledAt = now.Add(delay)
	case stage.KindPark:
		t.NextStage = queue.StageParked
	case stage.KindFail:
		t.NextStage = queue.StageError
	default:
		// Unknown outcome kinds park the item rather than guessing.
		t.NextStage = queue.StageParked
		t.Outcome = string(stage.KindPark)
		t.Detail = fmt.Sprintf("unknown outcome %q: %s", outcome.Kind, outcome.Detail)
	}
	return t, t.NextStage
}

// nextStage returns the pipeline successor of a stage.
func nextStage(s queue.Stage) queue.Stage {
	order := queue.ActiveStages()
	for i, candidate := range order {
		if candidate == s {
			if i+1 < len(order) {
				return order[i+1]
			}
			return queue.StageDone
		}
	}
	return queue.StageDone
}

func (m *Manager) afterCommit(ctx context.Context, item *queue.Item) {
	switch item.Stage {
	case queue.StageDone:
		m.notify(ctx, notifications.EventItemCompleted, item)
	case queue.StageError:
		m.notify(ctx, notifications.EventItemErrored, item)
	case queue.StageParked:
		m.notify(ctx, notifications.EventItemParked, item)
	}
	if sink := m.markerSink(); sink != nil {
		sink.Project(ctx, item)
	}
}

func (m *Manager) notify(ctx context.Context, event notifications.Event, item *queue.Item) {
	if m.notifier == nil || m.cfg.DryRun {
		return
	}
	payload := notifications.Payload{"key": item.ItemKey, "detail": item.Detail}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logging.WithContext(ctx, m.logger).Warn("notification failed", logging.Error(err))
	}
}
