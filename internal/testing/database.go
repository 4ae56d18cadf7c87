package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/janus/db"
)

// CreateTestDB creates a migrated SQLite database in the test's temp dir.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// A file rather than :memory: so every pooled connection sees the same schema
	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "janus-test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
