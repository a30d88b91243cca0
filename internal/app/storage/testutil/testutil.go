// Package testutil contains utilities for writing tests with storage.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jp-673/isktreon/internal/app/storage"
)

// NewDBInMemory creates and returns a database in memory for tests.
// Important: This variant is not suitable for DB code that runs in goroutines.
func NewDBInMemory() (*sql.DB, *storage.Storage) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.ApplyMigrations(db); err != nil {
		panic(err)
	}
	return db, storage.New(db)
}

// NewDBOnDisk creates and returns a new temporary database on disk for tests.
// The database is automatically removed once the tests have concluded.
func NewDBOnDisk(t testing.TB) (*sql.DB, *storage.Storage) {
	p := filepath.Join(t.TempDir(), "isktreon_test.sqlite")
	db, err := storage.InitDB("file:" + p)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db, storage.New(db)
}

// MustTruncateTables purges all data tables and will panic on any error.
func MustTruncateTables(db *sql.DB) {
	if _, err := db.Exec(`DELETE FROM dictionary;`); err != nil {
		panic(err)
	}
}
