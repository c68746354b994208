package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestClaimDueSkipsFutureItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, _, err := store.Admit(ctx, "PROJ-10", "")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	setScheduledAt(t, store, item.ID, time.Now().UTC().Add(time.Hour))

	claimed, err := store.ClaimDue(ctx, StageEntry, "token-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nothing due, claimed %+v", claimed)
	}
}

func TestClaimDueSkipsOtherStages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, err := store.Admit(ctx, "PROJ-11", ""); err != nil {
		t.Fatalf("admit: %v", err)
	}

	claimed, err := store.ClaimDue(ctx, StageRebase, "token-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no rebase items, claimed %+v", claimed)
	}
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, err := store.Admit(ctx, "PROJ-12", ""); err != nil {
		t.Fatalf("admit: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			claimed, err := store.ClaimDue(ctx, StageEntry, token)
			if err != nil {
				t.Errorf("claim %s: %v", token, err)
				return
			}
			if claimed != nil {
				mu.Lock()
				winners = append(winners, token)
				mu.Unlock()
			}
		}(fmt.Sprintf("token-%d", i))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one claim winner, got %d (%v)", len(winners), winners)
	}
}

func TestReleaseMakesItemDispatchableAgain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, _, err := store.Admit(ctx, "PROJ-13", "")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	first, err := store.ClaimDue(ctx, StageEntry, "token-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first == nil {
		t.Fatal("expected claim to succeed")
	}

	// While claimed, nobody else can take it.
	blocked, err := store.ClaimDue(ctx, StageEntry, "token-b")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if blocked != nil {
		t.Fatal("expected item to be unavailable while claimed")
	}

	if err := store.Release(ctx, item.ID, "token-a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	second, err := store.ClaimDue(ctx, StageEntry, "token-b")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if second == nil || second.ID != item.ID {
		t.Fatal("expected released item to be claimable again")
	}
}

func TestHeartbeatRequiresHeldClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, _, err := store.Admit(ctx, "PROJ-14", "")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := store.ClaimDue(ctx, StageEntry, "token-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := store.UpdateHeartbeat(ctx, item.ID, "token-a"); err != nil {
		t.Fatalf("heartbeat with held claim: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, item.ID, "token-b"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for foreign token, got %v", err)
	}
}

func TestReclaimStaleClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item, _, err := store.Admit(ctx, "PROJ-15", "")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := store.ClaimDue(ctx, StageEntry, "token-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A cutoff in the past leaves the fresh claim alone.
	reclaimed, err := store.ReclaimStaleClaims(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected fresh claim untouched, reclaimed %d", reclaimed)
	}

	// A cutoff in the future treats the heartbeat as stale.
	reclaimed, err = store.ReclaimStaleClaims(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected one stale claim reclaimed, got %d", reclaimed)
	}

	refreshed, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if refreshed.IsClaimed() {
		t.Fatal("expected claim cleared after reclaim")
	}

	// The stale holder's commit must now fail.
	err = store.CommitTransition(ctx, item.ID, "token-a", Transition{NextStage: StageRebase})
	if !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost from stale holder, got %v", err)
	}
}
