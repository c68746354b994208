// Package config loads, normalizes, and validates Conveyor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the TRACKER_URL, TRACKER_TOKEN,
// and TRACKER_PROJECT environment fallbacks, so a file-less bootstrap from
// environment variables alone is valid. The Config type centralizes every
// knob the daemon and CLI
// need: tracker connection details, per-stage agent commands, retry budget and
// backoff curve, and logging output.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
