// Package collector discovers tracker issues and admits them into the queue.
//
// A periodic scan runs the configured tracker query and admits every eligible
// issue at the entry stage. Admission is idempotent: issues with a live pass
// are left alone, and issues whose previous pass finished are only re-admitted
// when an operator sets the retry marker. The scan is read-mostly and safe to
// run while dispatchers are processing.
package collector
