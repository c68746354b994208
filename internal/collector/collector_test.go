package collector_test

import (
	"context"
	"testing"

	"conveyor/internal/collector"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func TestCollectAdmitsNewIssues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	fake.Seed("PROJ-1", "fix the build")
	fake.Seed("PROJ-2", "backport the fix")

	c := collector.New(cfg, store, fake, nil)
	result, err := c.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Scanned != 2 || result.Admitted != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	for _, key := range []string{"PROJ-1", "PROJ-2"} {
		live, err := store.LiveByKey(context.Background(), key)
		if err != nil {
			t.Fatalf("live by key: %v", err)
		}
		if live == nil || live.Stage != queue.StageEntry {
			t.Fatalf("expected live entry pass for %s", key)
		}
	}
}

func TestCollectIsIdempotentAcrossScans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	fake.Seed("PROJ-3", "fix")

	c := collector.New(cfg, store, fake, nil)
	ctx := context.Background()
	if _, err := c.CollectOnce(ctx); err != nil {
		t.Fatalf("first collect: %v", err)
	}
	second, err := c.CollectOnce(ctx)
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if second.Admitted != 0 || second.Skipped != 1 {
		t.Fatalf("second scan must be a no-op, got %+v", second)
	}

	history, err := store.History(ctx, "PROJ-3")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single pass, got %d", len(history))
	}
}

func TestCollectSkipsTerminalMarkedIssues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	fake.Seed("PROJ-4", "fix", "conveyor_done")
	fake.Seed("PROJ-5", "fix", "conveyor_errored")
	fake.Seed("PROJ-6", "fix", "conveyor_needs_attention")

	c := collector.New(cfg, store, fake, nil)
	result, err := c.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Admitted != 0 || result.Skipped != 3 {
		t.Fatalf("terminal-marked issues must be skipped, got %+v", result)
	}
}

func TestCollectSkipsInProgressMarkedIssues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	// A lagging stage label must not re-admit the issue, even when the
	// database has no trace of it (cleared queue, fresh host).
	fake.Seed("PROJ-14", "fix", "conveyor_rebase_in_progress")
	fake.Seed("PROJ-15", "fix", "conveyor_rebase_in_progress", "conveyor_retry_needed")

	c := collector.New(cfg, store, fake, nil)
	result, err := c.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("in-progress marker without retry must be skipped, got %+v", result)
	}

	live, err := store.LiveByKey(context.Background(), "PROJ-14")
	if err != nil {
		t.Fatalf("live by key: %v", err)
	}
	if live != nil {
		t.Fatal("PROJ-14 must not be admitted")
	}
	live, err = store.LiveByKey(context.Background(), "PROJ-15")
	if err != nil {
		t.Fatalf("live by key: %v", err)
	}
	if live == nil {
		t.Fatal("retry marker must override the in-progress marker")
	}
}

func TestRetryMarkerReopensFinishedIssue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	fake.Seed("PROJ-7", "fix", "conveyor_errored", "conveyor_retry_needed")

	ctx := context.Background()

	// Simulate the earlier failed pass.
	prior := testsupport.AdmitItem(t, store, "PROJ-7", "")
	claimed, err := store.ClaimDue(ctx, queue.StageEntry, "token-a")
	if err != nil || claimed == nil {
		t.Fatalf("claim prior pass: %v", err)
	}
	if err := store.CommitTransition(ctx, prior.ID, "token-a", queue.Transition{
		NextStage: queue.StageError,
		Outcome:   "fail",
	}); err != nil {
		t.Fatalf("commit prior pass: %v", err)
	}

	c := collector.New(cfg, store, fake, nil)
	result, err := c.CollectOnce(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Readmitted != 1 {
		t.Fatalf("expected readmission, got %+v", result)
	}

	live, err := store.LiveByKey(ctx, "PROJ-7")
	if err != nil {
		t.Fatalf("live by key: %v", err)
	}
	if live == nil || live.Stage != queue.StageEntry {
		t.Fatal("expected fresh entry pass after retry marker")
	}
	if fake.HasLabel("PROJ-7", "conveyor_retry_needed") {
		t.Fatal("retry marker must be consumed")
	}

	history, err := store.History(ctx, "PROJ-7")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("errored pass must be kept for audit, got %d passes", len(history))
	}
}

func TestRetryMarkerConsumedEvenWhenPassIsLive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	fake.Seed("PROJ-8", "fix", "conveyor_retry_needed")

	ctx := context.Background()
	testsupport.AdmitItem(t, store, "PROJ-8", "")

	c := collector.New(cfg, store, fake, nil)
	result, err := c.CollectOnce(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Readmitted != 0 || result.Skipped != 1 {
		t.Fatalf("live pass must not be duplicated, got %+v", result)
	}
	if fake.HasLabel("PROJ-8", "conveyor_retry_needed") {
		t.Fatal("retry marker must be consumed to stop re-triggering")
	}
}

func TestDryRunCollectWritesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDryRun())
	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeTracker()
	fake.Seed("PROJ-9", "fix")

	c := collector.New(cfg, store, fake, nil)
	result, err := c.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Admitted != 1 {
		t.Fatalf("dry run should report what it would admit, got %+v", result)
	}

	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatal("dry run must not write to the queue")
	}
}
