package queue

import (
	"context"
	"fmt"
	"time"
)

// Transition describes the committed result of one stage attempt.
type Transition struct {
	// NextStage is the stage the pass moves to. May equal the current stage
	// for a retry or reschedule.
	NextStage Stage

	// ScheduledAt is when the pass becomes due again. Ignored for terminal
	// stages.
	ScheduledAt time.Time

	// AttemptCount is the stored attempt counter after the transition.
	// Advancing resets it to zero, retrying increments it.
	AttemptCount int

	// Outcome names the processor result that drove the transition.
	Outcome string

	// Detail carries a human-readable note, typically the processor's
	// explanation or a truncated error.
	Detail string
}

// CommitTransition applies a stage transition and drops the claim in a single
// guarded write. The claim token fences the update: if the claim was reclaimed
// or released the write touches no rows and ErrClaimLost is returned, so a
// crashed-and-recovered dispatcher can never clobber newer state.
func (s *Store) CommitTransition(ctx context.Context, id int64, token string, t Transition) error {
	if token == "" {
		return ErrClaimLost
	}

	now := time.Now().UTC()
	scheduledAt := t.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET
            stage = ?,
            scheduled_at = ?,
            attempt_count = ?,
            last_outcome = ?,
            detail = ?,
            claim_token = NULL,
            last_heartbeat = NULL,
            updated_at = ?
         WHERE id = ? AND claim_token = ?`,
		t.NextStage,
		formatTime(scheduledAt),
		t.AttemptCount,
		nullableString(t.Outcome),
		nullableString(t.Detail),
		formatTime(now),
		id,
		token,
	)
	if err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrClaimLost
	}
	return nil
}

// RetryErrored opens fresh passes for errored items. The errored rows stay in
// place for audit; each affected key gets a new pass at the entry stage unless
// a live pass already exists. Returns the keys that were re-admitted.
func (s *Store) RetryErrored(ctx context.Context, keys ...string) ([]string, error) {
	candidates := keys
	if len(candidates) == 0 {
		rows, err := s.db.QueryContext(
			ctx,
			`SELECT DISTINCT item_key FROM work_items WHERE stage = ?`,
			StageError,
		)
		if err != nil {
			return nil, fmt.Errorf("list errored keys: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return nil, err
			}
			candidates = append(candidates, key)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	var readmitted []string
	for _, key := range candidates {
		last, err := s.latestPass(ctx, key)
		if err != nil {
			return readmitted, err
		}
		if last == nil || last.Stage != StageError {
			continue
		}
		_, admitted, err := s.Admit(ctx, key, last.MetadataJSON)
		if err != nil {
			return readmitted, fmt.Errorf("readmit %q: %w", key, err)
		}
		if admitted {
			readmitted = append(readmitted, key)
		}
	}
	return readmitted, nil
}

func (s *Store) latestPass(ctx context.Context, key string) (*Item, error) {
	items, err := s.History(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}
