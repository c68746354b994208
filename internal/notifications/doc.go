// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the pipeline milestones operators
// care about (parked, errored, completed) so workflow code can emit consistent
// messages without duplicating HTTP glue. Per-event delivery is gated by the
// [notifications] config flags.
//
// Extend this package if you need alternative transports; all workflow code
// depends only on the simple Service interface.
package notifications
