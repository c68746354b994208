package queue

import (
	"strings"
	"time"
)

// Stage identifies a work item's position in the pipeline.
type Stage string

const (
	StageTriage   Stage = "triage"
	StageRebase   Stage = "rebase"
	StageBackport Stage = "backport"
	StageTest     Stage = "test"
	StageRelease  Stage = "release"
	StageDone     Stage = "done"
	StageError    Stage = "error"
	StageParked   Stage = "parked"
)

// StageEntry is where the collector admits new passes.
const StageEntry = StageTriage

var allStages = []Stage{
	StageTriage,
	StageRebase,
	StageBackport,
	StageTest,
	StageRelease,
	StageDone,
	StageError,
	StageParked,
}

var terminalStages = map[Stage]struct{}{
	StageDone:   {},
	StageError:  {},
	StageParked: {},
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ActiveStages returns the pipeline stages a dispatcher loop runs for,
// in pipeline order.
func ActiveStages() []Stage {
	return []Stage{StageTriage, StageRebase, StageBackport, StageTest, StageRelease}
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a stage ends a pass through the pipeline.
func (s Stage) IsTerminal() bool {
	_, ok := terminalStages[s]
	return ok
}

// Item represents a work item pass persisted in SQLite.
//
// A pass is live while its stage is non-terminal; at most one live pass may
// exist per ItemKey. Terminal passes remain in the table for audit and
// re-trigger detection.
type Item struct {
	ID             int64
	ItemKey        string
	Stage          Stage
	ScheduledAt    time.Time
	AttemptCount   int
	MetadataJSON   string
	ExternalMarker string
	ClaimToken     string
	LastHeartbeat  *time.Time
	LastOutcome    string
	Detail         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLive reports whether the pass is still moving through the pipeline.
func (i *Item) IsLive() bool {
	return !i.Stage.IsTerminal()
}

// IsClaimed reports whether a dispatcher currently holds the item.
func (i *Item) IsClaimed() bool {
	return i.ClaimToken != ""
}

// DueAt reports whether the item is eligible for dispatch at the given time.
func (i *Item) DueAt(now time.Time) bool {
	return !i.ScheduledAt.After(now)
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Waiting    int
	Processing int
	Done       int
	Errored    int
	Parked     int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}
