package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrClaimLost indicates an item was released or reclaimed while a dispatcher
// still believed it held the claim. The holder must discard its work.
var ErrClaimLost = errors.New("claim lost")

// ClaimDue atomically claims the oldest due item in a stage. Returns nil when
// nothing is due. The claim token fences every later write to the item so a
// stale dispatcher cannot commit over a reclaimed pass.
func (s *Store) ClaimDue(ctx context.Context, stage Stage, token string) (*Item, error) {
	if token == "" {
		return nil, errors.New("claim token is required")
	}
	ctx = ensureContext(ctx)

	var claimed *Item
	err := retryOnBusy(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC()
		row := tx.QueryRowContext(
			ctx,
			`SELECT `+itemColumns+` FROM work_items
             WHERE stage = ? AND claim_token IS NULL AND scheduled_at <= ?
             ORDER BY scheduled_at, id LIMIT 1`,
			stage,
			formatTime(now),
		)
		item, scanErr := scanItem(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("select due item: %w", scanErr)
		}

		timestamp := formatTime(now)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE work_items SET claim_token = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND claim_token IS NULL`,
			token,
			timestamp,
			timestamp,
			item.ID,
		)
		if err != nil {
			return fmt.Errorf("mark claimed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another dispatcher won the row between select and update.
			return nil
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}

		item.ClaimToken = token
		heartbeat := now
		item.LastHeartbeat = &heartbeat
		item.UpdatedAt = now
		claimed = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimByID claims a specific unclaimed item regardless of its due time.
// Manual one-off processing uses this to run an item immediately; the
// dispatcher loops never do.
func (s *Store) ClaimByID(ctx context.Context, id int64, token string) (*Item, error) {
	if token == "" {
		return nil, errors.New("claim token is required")
	}
	now := time.Now().UTC()
	timestamp := formatTime(now)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET claim_token = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND claim_token IS NULL`,
		token,
		timestamp,
		timestamp,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim by id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrClaimLost
	}
	return s.GetByID(ctx, id)
}

// Release drops a claim without changing the item's stage. The item becomes
// immediately eligible for dispatch again.
func (s *Store) Release(ctx context.Context, id int64, token string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET claim_token = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND claim_token = ?`,
		formatTime(time.Now().UTC()),
		id,
		token,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
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

// UpdateHeartbeat refreshes the liveness timestamp on a held claim.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64, token string) error {
	timestamp := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND claim_token = ?`,
		timestamp,
		timestamp,
		id,
		token,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
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

// ReclaimStaleClaims clears claims whose heartbeat is older than the cutoff,
// returning the reclaimed items to their stage queue. Covers dispatcher
// crashes between claim and commit.
func (s *Store) ReclaimStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET claim_token = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE claim_token IS NOT NULL AND last_heartbeat < ?`,
		formatTime(time.Now().UTC()),
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return res.RowsAffected()
}
