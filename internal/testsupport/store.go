package testsupport

import (
	"context"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AdmitItem creates a new live pass for tests using the provided store.
func AdmitItem(t testing.TB, store *queue.Store, key, metadata string) *queue.Item {
	t.Helper()

	item, _, err := store.Admit(context.Background(), key, metadata)
	if err != nil {
		t.Fatalf("store.Admit: %v", err)
	}
	return item
}
