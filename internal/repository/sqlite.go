package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements the sample and session stores using SQLite.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// SQLite allows a single writer; a one-connection pool serializes
	// concurrent ingest transactions instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &SQLiteRepository{db: db}, nil
}

// Ping verifies database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// RunMigrations runs database migrations
func (r *SQLiteRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}
