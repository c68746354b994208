package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const itemColumns = "id, item_key, stage, scheduled_at, attempt_count, metadata_json, external_marker, claim_token, last_heartbeat, last_outcome, detail, created_at, updated_at"

const liveStageFilter = "stage NOT IN ('done', 'error', 'parked')"

// Admit inserts a new live pass for an external key at the entry stage.
// When a live pass already exists for the key the insert is a no-op and the
// existing pass is returned with admitted=false; the collector treats that
// race as a loss, not an error.
func (s *Store) Admit(ctx context.Context, key, metadataJSON string) (*Item, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("item key is required")
	}

	now := time.Now().UTC()
	timestamp := formatTime(now)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO work_items (
            item_key, stage, scheduled_at, attempt_count, metadata_json,
            created_at, updated_at
        ) VALUES (?, ?, ?, 0, ?, ?, ?)
        ON CONFLICT (item_key) WHERE `+liveStageFilter+` DO NOTHING`,
		key,
		StageEntry,
		timestamp,
		nullableString(metadataJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("admit item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	item, err := s.LiveByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, fmt.Errorf("admitted item %q not found", key)
	}
	return item, affected > 0, nil
}

// GetByID fetches a work item pass by row identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// LiveByKey returns the live (non-terminal) pass for an external key, if any.
func (s *Store) LiveByKey(ctx context.Context, key string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE item_key = ? AND `+liveStageFilter+` LIMIT 1`,
		key,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("live by key: %w", err)
	}
	return item, nil
}

// History returns every pass recorded for an external key, oldest first.
func (s *Store) History(ctx context.Context, key string) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE item_key = ? ORDER BY created_at, id`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// List returns work items filtered by stage set (or all items when no stage is provided).
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM work_items`
	orderClause := ` ORDER BY created_at, id`

	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// Peek returns a stage's queue in dispatch order without claiming anything.
func (s *Store) Peek(ctx context.Context, stage Stage) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE stage = ? ORDER BY scheduled_at, id`,
		stage,
	)
	if err != nil {
		return nil, fmt.Errorf("peek stage %s: %w", stage, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// UpdateMarker records the last externally applied label for an item. The
// reflector calls this outside the dispatcher's claim transaction; marker lag
// must never block a committed stage transition.
func (s *Store) UpdateMarker(ctx context.Context, id int64, marker string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET external_marker = ?, updated_at = ? WHERE id = ?`,
		nullableString(marker),
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	return nil
}

// Stats returns a count of items grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM work_items GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}

	var claimed int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM work_items WHERE claim_token IS NOT NULL`)
	if err := row.Scan(&claimed); err != nil {
		return HealthSummary{}, fmt.Errorf("count claimed: %w", err)
	}

	health := HealthSummary{Processing: claimed}
	for stage, count := range stats {
		health.Total += count
		switch stage {
		case StageDone:
			health.Done += count
		case StageError:
			health.Errored += count
		case StageParked:
			health.Parked += count
		default:
			health.Waiting += count
		}
	}
	health.Waiting -= claimed
	if health.Waiting < 0 {
		health.Waiting = 0
	}
	return health, nil
}

// Remove deletes an item pass by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearTerminal removes done, errored, and parked passes from the queue.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM work_items WHERE stage IN (?, ?, ?)`,
		StageDone, StageError, StageParked,
	)
	if err != nil {
		return 0, fmt.Errorf("clear terminal: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM work_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		itemKey      string
		stageStr     string
		scheduledRaw string
		attemptCount int
		metadata     sql.NullString
		marker       sql.NullString
		claimToken   sql.NullString
		heartbeatRaw sql.NullString
		lastOutcome  sql.NullString
		detail       sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&itemKey,
		&stageStr,
		&scheduledRaw,
		&attemptCount,
		&metadata,
		&marker,
		&claimToken,
		&heartbeatRaw,
		&lastOutcome,
		&detail,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:             id,
		ItemKey:        itemKey,
		Stage:          Stage(stageStr),
		AttemptCount:   attemptCount,
		MetadataJSON:   metadata.String,
		ExternalMarker: marker.String,
		ClaimToken:     claimToken.String,
		LastOutcome:    lastOutcome.String,
		Detail:         detail.String,
	}

	if scheduled, err := parseTimeString(scheduledRaw); err == nil {
		item.ScheduledAt = scheduled
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	return item, nil
}
