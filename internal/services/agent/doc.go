// Package agent runs stage work as external subprocesses.
//
// Each pipeline stage is bound to an agent command in config.toml. The
// runner feeds the stage request to the agent's stdin as JSON and reads a
// JSON verdict from stdout, keeping the daemon language-agnostic about how
// stage work actually gets done. Failures are classified with the services
// sentinels so the dispatcher can pick retry, park, or fail.
package agent
