// Package queue persists pipeline work items in SQLite and exposes helpers
// for driving their lifecycle.
//
// The Store manages database connections, schema initialization, time-ordered
// due-item claims, heartbeat tracking, stale-claim recovery, and the stage
// transitions the dispatcher commits. A work item row records the external
// key, current stage, attempt count, next-eligible time, and opaque metadata;
// terminal rows are kept for audit so a re-trigger starts a fresh pass while
// the old record stays queryable.
//
// Live-pass uniqueness (at most one non-terminal row per external key) and
// claim exclusivity (at most one dispatcher holding an item) are enforced
// here, inside the database, rather than in callers.
//
// Treat this package as the single source of truth for queue semantics; when
// you add stages or item fields, update schema.sql and bump schemaVersion.
package queue
