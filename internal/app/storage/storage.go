// Package storage provides durable local storage backed by SQLite.
// All DB access is abstracted through receivers of [Storage].
package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/storage/queries"
	"github.com/jp-673/isktreon/internal/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrInvalid = app.ErrInvalid

// Storage provides access to the local database.
type Storage struct {
	q *queries.Queries
}

// New returns a new storage object for db.
func New(db *sql.DB) *Storage {
	return &Storage{q: queries.New(db)}
}

// InitDB opens the database at dataSourceName, applies all migrations and returns it.
func InitDB(dataSourceName string) (*sql.DB, error) {
	v := url.Values{}
	v.Add("_fk", "on")
	v.Add("_journal_mode", "WAL")
	v.Add("_synchronous", "normal")
	v.Add("_busy_timeout", "5000")
	dsn := fmt.Sprintf("%s?%s", dataSourceName, v.Encode())
	slog.Debug("Connecting to sqlite", "dsn", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open DB: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := ApplyMigrations(db); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	slog.Info("Connected to database")
	return db, nil
}

// ApplyMigrations applies all pending schema migrations to db.
func ApplyMigrations(db *sql.DB) error {
	_, err := migrate.Run(db, migrationsFS)
	return err
}
