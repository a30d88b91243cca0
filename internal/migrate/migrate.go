// Package migrate applies schema migrations to a SQLite database.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/ErikKalkoken/go-set"
)

// MigrateFS is a filesystem with SQL files in a folder called "migrations".
type MigrateFS interface {
	fs.ReadDirFS
	fs.ReadFileFS
}

const createTrackingSQL = `
CREATE TABLE IF NOT EXISTS migrations(
	id INTEGER PRIMARY KEY NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	name TEXT NOT NULL,
	UNIQUE (name)
);`

// Run applies all unapplied migrations in alphabetical order
// and returns the names of the applied migrations.
//
// Each migration runs in it's own transaction.
func Run(db *sql.DB, migrations MigrateFS) ([]string, error) {
	if _, err := db.Exec(createTrackingSQL); err != nil {
		return nil, fmt.Errorf("migrate: create tracking: %w", err)
	}
	applied, err := listApplied(db)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	var pending []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".sql")
		if !ok || e.IsDir() || applied.Contains(name) {
			continue
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		slog.Debug("No new migrations to apply")
		return nil, nil
	}
	slices.Sort(pending)
	for _, name := range pending {
		data, err := migrations.ReadFile(path.Join("migrations", name+".sql"))
		if err != nil {
			return nil, fmt.Errorf("migrate: %s: %w", name, err)
		}
		if err := apply(db, name, string(data)); err != nil {
			return nil, fmt.Errorf("migrate: %s: %w", name, err)
		}
		slog.Info("Applied migration", "name", name)
	}
	return pending, nil
}

func apply(db *sql.DB, name, query string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(query); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO migrations(name) VALUES(?);`, name); err != nil {
		return err
	}
	return tx.Commit()
}

func listApplied(db *sql.DB) (set.Set[string], error) {
	var names set.Set[string]
	rows, err := db.Query(`SELECT name FROM migrations;`)
	if err != nil {
		return names, err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return names, err
		}
		names.Add(n)
	}
	return names, rows.Err()
}
