package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

const stderrTailLimit = 1024

// Runner executes a stage's configured agent command as a subprocess. The
// request is written to the agent's stdin as JSON and the verdict is read
// back from stdout, so agents can be written in any language.
type Runner struct {
	name    string
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a runner for one stage. The command is argv form; the first
// element is the executable.
func New(name string, command []string, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, name, "new agent runner",
			"No agent command configured for stage", nil)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		name:    name,
		command: command,
		timeout: timeout,
		logger:  logger.With(logging.String(logging.FieldComponent, "agent."+name)),
	}, nil
}

// response is the verdict an agent prints to stdout.
type response struct {
	Outcome      string `json:"outcome"`
	NextStage    string `json:"next_stage,omitempty"`
	DelaySeconds int    `json:"delay_seconds,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// Process runs the agent once for the given request. Agents must be
// idempotent; at-least-once dispatch can invoke the same attempt twice.
func (r *Runner) Process(ctx context.Context, req stage.Request) (stage.Outcome, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return stage.Outcome{}, services.Wrap(
			services.ErrValidation, r.name, "encode agent request",
			"Stage request could not be encoded", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.command[0], r.command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started).Round(time.Millisecond)

	logger := logging.WithContext(ctx, r.logger)
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return stage.Outcome{}, services.Wrap(
				services.ErrTransient, r.name, "run agent",
				fmt.Sprintf("Agent timed out after %s", r.timeout), runErr)
		}
		logger.Warn("agent exited with error",
			logging.Error(runErr),
			logging.String("stderr", stderrTail(stderr.Bytes())),
			logging.Duration("elapsed", elapsed),
		)
		return stage.Outcome{}, services.Wrap(
			services.ErrTransient, r.name, "run agent",
			fmt.Sprintf("Agent failed: %s", stderrTail(stderr.Bytes())), runErr)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return stage.Outcome{}, services.Wrap(
			services.ErrValidation, r.name, "decode agent response",
			"Agent produced unparseable output", err)
	}

	outcome, err := toOutcome(resp)
	if err != nil {
		return stage.Outcome{}, services.Wrap(
			services.ErrValidation, r.name, "decode agent response",
			"Agent reported an unknown outcome", err)
	}

	logger.Debug("agent finished",
		logging.String(logging.FieldOutcome, string(outcome.Kind)),
		logging.Duration("elapsed", elapsed),
	)
	return outcome, nil
}

// HealthCheck verifies the agent executable can be resolved.
func (r *Runner) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(r.command[0]); err != nil {
		return stage.Unhealthy(r.name, fmt.Sprintf("agent command not found: %v", err))
	}
	return stage.Healthy(r.name)
}

func toOutcome(resp response) (stage.Outcome, error) {
	kind := stage.OutcomeKind(strings.ToLower(strings.TrimSpace(resp.Outcome)))
	if !kind.Valid() {
		return stage.Outcome{}, fmt.Errorf("unknown outcome %q", resp.Outcome)
	}
	return stage.Outcome{
		Kind:   kind,
		Next:   strings.TrimSpace(resp.NextStage),
		Delay:  time.Duration(resp.DelaySeconds) * time.Second,
		Detail: strings.TrimSpace(resp.Detail),
	}, nil
}

func stderrTail(data []byte) string {
	text := strings.TrimSpace(string(data))
	if len(text) > stderrTailLimit {
		text = text[len(text)-stderrTailLimit:]
	}
	return text
}
