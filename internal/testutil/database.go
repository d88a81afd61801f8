package testutil

import (
	"testing"

	"shx-go/internal/database"
)

// NewTestCache creates an in-memory SQLite digest cache with the schema
// migrated. It is closed when the test completes.
func NewTestCache(t *testing.T) *database.SQLiteCache {
	t.Helper()

	cache, err := database.NewSQLiteCache(":memory:")
	if err != nil {
		t.Fatalf("failed to open digest cache: %v", err)
	}
	t.Cleanup(func() {
		cache.Close()
	})
	return cache
}
