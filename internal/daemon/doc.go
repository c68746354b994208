// Package daemon ties the collector, workflow manager, and reflector into a
// single-instance background process and exposes queue administration
// operations for the CLI.
package daemon
