package stage

import (
	"context"
	"encoding/json"
)

// Request carries everything a processor needs for one stage attempt.
type Request struct {
	Key      string          `json:"key"`
	Stage    string          `json:"stage"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Attempt  int             `json:"attempt"`
	DryRun   bool            `json:"dry_run"`
}

// Processor is the contract the workflow manager needs from each stage.
// Process must be idempotent per key and stage: at-least-once dispatch means
// the same attempt can run twice after a crash.
type Processor interface {
	Process(context.Context, Request) (Outcome, error)
	HealthCheck(context.Context) Health
}

// Health reports whether a processor can currently accept items.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks a processor as ready.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy marks a processor as unable to run, with a reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
