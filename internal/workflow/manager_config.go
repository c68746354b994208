package workflow

import (
	"log/slog"
	"strings"
	"time"

	"conveyor/internal/queue"
	"conveyor/internal/services/agent"
	"conveyor/internal/stage"
)

// StageSet bundles the concrete processors the manager orchestrates.
type StageSet struct {
	Triage   stage.Processor
	Rebase   stage.Processor
	Backport stage.Processor
	Test     stage.Processor
	Release  stage.Processor
}

// ConfigureStages registers processors for the pipeline stages. Stages with a
// nil processor get no dispatch loop; their items wait until one is
// registered.
func (m *Manager) ConfigureStages(set StageSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	assign := func(s queue.Stage, p stage.Processor) {
		if p != nil {
			m.processors[s] = p
		} else {
			delete(m.processors, s)
		}
	}
	assign(queue.StageTriage, set.Triage)
	assign(queue.StageRebase, set.Rebase)
	assign(queue.StageBackport, set.Backport)
	assign(queue.StageTest, set.Test)
	assign(queue.StageRelease, set.Release)
}

// ConfigureAgents builds agent runners for every stage with a command bound
// in configuration and registers them as the stage processors.
func (m *Manager) ConfigureAgents(logger *slog.Logger) error {
	timeout := time.Duration(m.cfg.Workflow.AgentTimeout) * time.Second
	var set StageSet

	build := func(s queue.Stage, dest *stage.Processor) error {
		command := strings.Fields(m.cfg.AgentCommand(string(s)))
		if len(command) == 0 {
			return nil
		}
		runner, err := agent.New(string(s), command, timeout, logger)
		if err != nil {
			return err
		}
		*dest = runner
		return nil
	}

	if err := build(queue.StageTriage, &set.Triage); err != nil {
		return err
	}
	if err := build(queue.StageRebase, &set.Rebase); err != nil {
		return err
	}
	if err := build(queue.StageBackport, &set.Backport); err != nil {
		return err
	}
	if err := build(queue.StageTest, &set.Test); err != nil {
		return err
	}
	if err := build(queue.StageRelease, &set.Release); err != nil {
		return err
	}

	m.ConfigureStages(set)
	return nil
}

// Processor returns the registered processor for a stage, if any.
func (m *Manager) Processor(s queue.Stage) (stage.Processor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processors[s]
	return p, ok
}
