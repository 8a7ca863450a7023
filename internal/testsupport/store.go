package testsupport

import (
	"testing"

	"loom/internal/config"
	"loom/internal/runstore"
	"loom/internal/tableio"
)

// MustOpenStore opens a runstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTables wraps a run store's database with the versioned table layer.
func MustOpenTables(t testing.TB, store *runstore.Store) *tableio.Store {
	t.Helper()
	return tableio.New(store.DB())
}
