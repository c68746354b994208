// Package workflow advances queue items through the configured pipeline
// stages.
//
// The Manager runs one dispatch loop per stage. Each loop claims the oldest
// due item for its stage, invokes the stage processor, and commits the
// resulting transition in a single claim-guarded write. Heartbeats keep
// claims alive during long-running work and a reclaimer returns items whose
// holder died. Processor failures are classified into retry, park, or fail
// via the services sentinels, with retry delays following a deterministic
// exponential curve.
//
// Add new pipeline stages by extending the stage list in the queue package,
// binding an agent in config.toml, and registering a processor here; this
// package is the authoritative home for transition policy.
package workflow
