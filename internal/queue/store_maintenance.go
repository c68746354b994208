package queue

import (
	"context"
	"fmt"
	"os"
)

// CheckHealth inspects the queue database file and reports diagnostics
// without failing hard; problems are captured in the returned struct.
func (s *Store) CheckHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{DBPath: s.path}
	ctx = ensureContext(ctx)

	if s.path != ":memory:" {
		if _, err := os.Stat(s.path); err != nil {
			health.Error = fmt.Sprintf("database file not accessible: %v", err)
			return health
		}
	}
	health.DatabaseExists = true

	if err := s.db.PingContext(ctx); err != nil {
		health.Error = fmt.Sprintf("database not readable: %v", err)
		return health
	}
	health.DatabaseReadable = true

	var tableCount int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='work_items'",
	).Scan(&tableCount)
	if err != nil {
		health.Error = fmt.Sprintf("table check failed: %v", err)
		return health
	}
	if tableCount == 0 {
		health.Error = "work_items table missing"
		return health
	}
	health.TableExists = true

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = fmt.Sprintf("integrity check failed: %v", err)
		return health
	}
	if integrity != "ok" {
		health.Error = fmt.Sprintf("integrity check reported: %s", integrity)
		return health
	}
	health.IntegrityCheck = true

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM work_items").Scan(&total); err != nil {
		health.Error = fmt.Sprintf("count items: %v", err)
		return health
	}
	health.TotalItems = total

	return health
}
