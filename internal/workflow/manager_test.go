package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

type scripted struct {
	mu       sync.Mutex
	steps    []func(stage.Request) (stage.Outcome, error)
	calls    int
	requests []stage.Request
}

func (s *scripted) Process(_ context.Context, req stage.Request) (stage.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	return s.steps[idx](req)
}

func (s *scripted) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("scripted")
}

// gatedProcessor reports each invocation and blocks until released, so tests
// can observe overlapping claims.
type gatedProcessor struct {
	started chan string
	release chan struct{}
}

func (g *gatedProcessor) Process(ctx context.Context, req stage.Request) (stage.Outcome, error) {
	g.started <- req.Key
	select {
	case <-g.release:
		return stage.Done("ok"), nil
	case <-ctx.Done():
		return stage.Outcome{}, ctx.Err()
	}
}

func (g *gatedProcessor) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("gated")
}

func always(out stage.Outcome) *scripted {
	return &scripted{steps: []func(stage.Request) (stage.Outcome, error){
		func(stage.Request) (stage.Outcome, error) { return out, nil },
	}}
}

func failing(err error) *scripted {
	return &scripted{steps: []func(stage.Request) (stage.Outcome, error){
		func(stage.Request) (stage.Outcome, error) { return stage.Outcome{}, err },
	}}
}

func newTestManager(t *testing.T) (*Manager, *queue.Store, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Workflow.QueuePollInterval = 0
	cfg.Workflow.ErrorRetryInterval = 0
	cfg.Workflow.MaxAttempts = 3
	cfg.Workflow.RetryBackoffBase = 1
	cfg.Workflow.RetryBackoffCap = 4
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 10

	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mgr := NewManagerWithNotifier(&cfg, store, nil, nil)
	return mgr, store, cfg
}

func allAdvance() StageSet {
	return StageSet{
		Triage:   always(stage.Advance("ok")),
		Rebase:   always(stage.Advance("ok")),
		Backport: always(stage.Advance("ok")),
		Test:     always(stage.Advance("ok")),
		Release:  always(stage.Advance("ok")),
	}
}

func TestRunToCompletionWalksAllStages(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	mgr.ConfigureStages(allAdvance())

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-1", `{"branch":"main"}`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageDone {
		t.Fatalf("expected done, got %s", item.Stage)
	}
	if item.AttemptCount != 0 {
		t.Fatalf("expected attempt counter reset on advance, got %d", item.AttemptCount)
	}

	history, err := store.History(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("one-off run must not open extra passes, got %d", len(history))
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	flaky := &scripted{steps: []func(stage.Request) (stage.Outcome, error){
		func(stage.Request) (stage.Outcome, error) {
			return stage.Outcome{}, services.Wrap(services.ErrTransient, "triage", "fetch", "network blip", nil)
		},
		func(stage.Request) (stage.Outcome, error) { return stage.Done("recovered"), nil },
	}}
	mgr.ConfigureStages(StageSet{Triage: flaky})

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-2", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageDone {
		t.Fatalf("expected done after retry, got %s (%s)", item.Stage, item.Detail)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", flaky.calls)
	}
	// Second invocation must have seen the incremented attempt counter.
	if got := flaky.requests[1].Attempt; got != 1 {
		t.Fatalf("expected attempt 1 on retry, got %d", got)
	}
}

func TestRetryBudgetExhaustionFailsItem(t *testing.T) {
	mgr, _, cfg := newTestManager(t)
	broken := failing(services.Wrap(services.ErrTransient, "triage", "fetch", "always down", nil))
	mgr.ConfigureStages(StageSet{Triage: broken})

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-3", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageError {
		t.Fatalf("expected error stage, got %s", item.Stage)
	}
	// The attempt counter runs 0..max inclusive before the forced failure.
	if want := cfg.Workflow.MaxAttempts + 1; broken.calls != want {
		t.Fatalf("expected %d attempts, got %d", want, broken.calls)
	}
}

func TestRetryAtBudgetEdgeGetsFinalAttempt(t *testing.T) {
	mgr, _, cfg := newTestManager(t)
	item := &queue.Item{ItemKey: "PROJ-20", Stage: queue.StageRebase, AttemptCount: cfg.Workflow.MaxAttempts - 1}

	// One attempt left in the budget: the item re-enqueues in its stage with
	// the counter at the budget and a backoff delay.
	tr, next := mgr.planTransition(item, queue.StageRebase, stage.Retry("flaky test farm"))
	if next != queue.StageRebase {
		t.Fatalf("expected re-enqueue in rebase, got %s (%s)", next, tr.Detail)
	}
	if tr.AttemptCount != cfg.Workflow.MaxAttempts {
		t.Fatalf("expected attempt %d, got %d", cfg.Workflow.MaxAttempts, tr.AttemptCount)
	}
	if !tr.ScheduledAt.After(time.Now().UTC()) {
		t.Fatalf("expected a backoff delay, got %v", tr.ScheduledAt)
	}

	// A further retry at the budget forces the failure.
	item.AttemptCount = tr.AttemptCount
	tr, next = mgr.planTransition(item, queue.StageRebase, stage.Retry("flaky test farm"))
	if next != queue.StageError {
		t.Fatalf("expected forced failure past the budget, got %s", next)
	}
	if tr.Outcome != string(stage.KindFail) {
		t.Fatalf("expected fail outcome, got %s", tr.Outcome)
	}
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	broken := failing(services.Wrap(services.ErrPermanent, "triage", "apply", "patch does not apply", nil))
	mgr.ConfigureStages(StageSet{Triage: broken})

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-4", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageError {
		t.Fatalf("expected error stage, got %s", item.Stage)
	}
	if broken.calls != 1 {
		t.Fatalf("permanent failure must not retry, got %d calls", broken.calls)
	}
}

func TestAmbiguousFailureParksItem(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	confused := failing(services.Wrap(services.ErrAmbiguous, "triage", "classify", "conflicting review labels", nil))
	mgr.ConfigureStages(StageSet{Triage: confused})

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-5", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageParked {
		t.Fatalf("expected parked, got %s", item.Stage)
	}
	if confused.calls != 1 {
		t.Fatalf("ambiguous failure must park immediately, got %d calls", confused.calls)
	}
}

func TestProcessorPanicIsTransient(t *testing.T) {
	mgr, _, cfg := newTestManager(t)
	panicky := &scripted{steps: []func(stage.Request) (stage.Outcome, error){
		func(stage.Request) (stage.Outcome, error) { panic("index out of range") },
	}}
	mgr.ConfigureStages(StageSet{Triage: panicky})

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-10", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageError {
		t.Fatalf("expected error stage after exhausted panics, got %s", item.Stage)
	}
	if want := cfg.Workflow.MaxAttempts + 1; panicky.calls != want {
		t.Fatalf("panics should retry like transient failures, got %d calls, want %d", panicky.calls, want)
	}
}

func TestAdvanceToRoutesExplicitStage(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	set := allAdvance()
	set.Triage = always(stage.AdvanceTo("test", "trivial change, skip rebase and backport"))
	mgr.ConfigureStages(set)

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-6", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageDone {
		t.Fatalf("expected done, got %s", item.Stage)
	}

	// Only triage, test, release ran: the scripted processors are shared per
	// stage so count calls on the skipped ones.
	if set.Rebase.(*scripted).calls != 0 || set.Backport.(*scripted).calls != 0 {
		t.Fatal("expected rebase and backport to be skipped")
	}
	if set.Test.(*scripted).calls != 1 || set.Release.(*scripted).calls != 1 {
		t.Fatal("expected test and release to run once")
	}
}

func TestDoneOutcomeShortCircuits(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	set := allAdvance()
	set.Triage = always(stage.Done("already released upstream"))
	mgr.ConfigureStages(set)

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-7", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageDone {
		t.Fatalf("expected done, got %s", item.Stage)
	}
	if set.Rebase.(*scripted).calls != 0 {
		t.Fatal("done must short-circuit later stages")
	}
}

func TestParkOutcomeFromProcessor(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	mgr.ConfigureStages(StageSet{Triage: always(stage.Park("needs human judgement"))})

	item, err := mgr.RunToCompletion(context.Background(), "PROJ-8", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Stage != queue.StageParked {
		t.Fatalf("expected parked, got %s", item.Stage)
	}
	if item.Detail != "needs human judgement" {
		t.Fatalf("expected detail recorded, got %q", item.Detail)
	}
}

func TestStartProcessesQueuedItems(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	mgr.ConfigureStages(allAdvance())

	ctx := context.Background()
	if _, _, err := store.Admit(ctx, "PROJ-9", ""); err != nil {
		t.Fatalf("admit: %v", err)
	}

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		history, err := store.History(ctx, "PROJ-9")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) == 1 && history[0].Stage == queue.StageDone {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("item did not reach done before deadline")
}

func TestDryRunMatchesRealOutcomeSequence(t *testing.T) {
	flakyTriage := func() *scripted {
		return &scripted{steps: []func(stage.Request) (stage.Outcome, error){
			func(stage.Request) (stage.Outcome, error) {
				return stage.Outcome{}, services.Wrap(services.ErrTransient, "triage", "fetch", "network blip", nil)
			},
			func(stage.Request) (stage.Outcome, error) { return stage.Advance("classified"), nil },
		}}
	}

	run := func(dry bool) (queue.Stage, []stage.Request) {
		cfg := config.Default()
		cfg.Workflow.QueuePollInterval = 0
		cfg.Workflow.ErrorRetryInterval = 0
		cfg.Workflow.MaxAttempts = 3
		cfg.Workflow.RetryBackoffBase = 1
		cfg.Workflow.RetryBackoffCap = 4
		cfg.Workflow.HeartbeatInterval = 1
		cfg.Workflow.HeartbeatTimeout = 10
		cfg.DryRun = dry

		store, err := queue.OpenEphemeral()
		if err != nil {
			t.Fatalf("open ephemeral store: %v", err)
		}
		defer store.Close()

		mgr := NewManagerWithNotifier(&cfg, store, nil, nil)
		set := allAdvance()
		triage := flakyTriage()
		set.Triage = triage
		mgr.ConfigureStages(set)

		item, err := mgr.RunToCompletion(context.Background(), "PROJ-40", "")
		if err != nil {
			t.Fatalf("run (dry=%v): %v", dry, err)
		}

		var requests []stage.Request
		requests = append(requests, triage.requests...)
		for _, p := range []stage.Processor{set.Rebase, set.Backport, set.Test, set.Release} {
			requests = append(requests, p.(*scripted).requests...)
		}
		return item.Stage, requests
	}

	wetStage, wetReqs := run(false)
	dryStage, dryReqs := run(true)

	if wetStage != dryStage {
		t.Fatalf("final stage differs: wet=%s dry=%s", wetStage, dryStage)
	}
	if len(wetReqs) != len(dryReqs) {
		t.Fatalf("invocation counts differ: wet=%d dry=%d", len(wetReqs), len(dryReqs))
	}
	for i := range wetReqs {
		if wetReqs[i].Stage != dryReqs[i].Stage || wetReqs[i].Attempt != dryReqs[i].Attempt {
			t.Fatalf("invocation %d differs: wet=%s/%d dry=%s/%d",
				i, wetReqs[i].Stage, wetReqs[i].Attempt, dryReqs[i].Stage, dryReqs[i].Attempt)
		}
		if !dryReqs[i].DryRun {
			t.Fatalf("invocation %d did not carry the dry-run flag", i)
		}
		if wetReqs[i].DryRun {
			t.Fatalf("invocation %d carried the dry-run flag on a real run", i)
		}
	}
}

func TestStageWorkersClaimDistinctItemsConcurrently(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.QueuePollInterval = 0
	cfg.Workflow.ErrorRetryInterval = 0
	cfg.Workflow.MaxAttempts = 3
	cfg.Workflow.RetryBackoffBase = 1
	cfg.Workflow.RetryBackoffCap = 4
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 10
	cfg.Workflow.StageWorkers = 2

	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mgr := NewManagerWithNotifier(&cfg, store, nil, nil)

	gate := &gatedProcessor{started: make(chan string, 4), release: make(chan struct{})}
	mgr.ConfigureStages(StageSet{Triage: gate})

	ctx := context.Background()
	for _, key := range []string{"PROJ-30", "PROJ-31"} {
		if _, _, err := store.Admit(ctx, key, ""); err != nil {
			t.Fatalf("admit %s: %v", key, err)
		}
	}

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	// Both workers must hold a claim at the same time before either commits.
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case key := <-gate.started:
			seen[key] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d item(s) claimed concurrently with 2 stage workers", len(seen))
		}
	}
	close(gate.release)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats[queue.StageDone] == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("items did not finish after release")
}

func TestStartRequiresConfiguredStages(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	if err := mgr.Start(context.Background()); err == nil {
		mgr.Stop()
		t.Fatal("expected error starting with no stages configured")
	}
}
