package testsupport

import (
	"context"
	"testing"

	"kiosk/internal/config"
	"kiosk/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewTask enqueues a download task for tests using the provided store.
func NewTask(t testing.TB, st *store.Store, id, uri, destName string) *store.Task {
	t.Helper()

	task, _, err := st.Enqueue(context.Background(), store.Task{
		ID:       id,
		URI:      uri,
		DestName: destName,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return task
}
