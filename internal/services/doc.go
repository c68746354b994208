// Package services defines shared utilities consumed by the dispatcher and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp work item identity, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate processor
//     failures into consistent stage transitions (retry vs fail vs park).
//
// Use these helpers when wiring new stage integrations so operational
// behaviour (error handling, observability, retries) stays uniform across the
// pipeline.
package services
