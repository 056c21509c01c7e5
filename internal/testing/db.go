// Package testing provides testing utilities and helpers for the tradeinbox project.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/aristath/tradeinbox/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a temporary SQLite database for testing with automatic schema migration.
// The database is closed and removed when the test finishes.
//
// Supported schema names: "ledger", "inbox", "client_data". Unknown names
// create an empty database.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	switch name {
	case database.NameLedger:
		profile = database.ProfileLedger
	case database.NameClientData:
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	})

	return db
}

// NewMemoryDB opens an in-memory database with the given schema applied.
// The pool is pinned to one connection so every query sees the same memory database.
func NewMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if schemaFile, ok := database.SchemaFor(name); ok {
		if err := database.ApplySchema(conn, schemaFile); err != nil {
			_ = conn.Close()
			t.Fatalf("Failed to apply schema %s: %v", name, err)
		}
	}

	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
