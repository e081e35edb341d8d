package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// statementStatsQuery reads the statistics catalog the pg_stat_statements
// extension exposes, using the PostgreSQL 13+ column names.
const statementStatsQuery = `
	SELECT query,
	       calls,
	       total_exec_time AS total_time_ms,
	       min_exec_time   AS min_time_ms,
	       max_exec_time   AS max_time_ms,
	       mean_exec_time  AS mean_time_ms
	FROM pg_stat_statements
	WHERE query IS NOT NULL AND query <> ''
`

// DSNResolver maps a target id to the connection string of the monitored
// database. Target registration lives with the surrounding application;
// the engine only asks where to connect.
type DSNResolver func(targetID string) (string, error)

// PostgresSource fetches snapshots from live PostgreSQL targets. One
// connection pool is kept per target.
type PostgresSource struct {
	resolve DSNResolver

	mu    sync.Mutex
	conns map[string]*sqlx.DB
}

// NewPostgresSource creates a source that resolves target DSNs on demand.
func NewPostgresSource(resolve DSNResolver) *PostgresSource {
	return &PostgresSource{
		resolve: resolve,
		conns:   make(map[string]*sqlx.DB),
	}
}

// FetchSnapshot reads the current statement statistics for a target.
func (s *PostgresSource) FetchSnapshot(ctx context.Context, targetID string) ([]models.StatementSnapshot, error) {
	db, err := s.conn(targetID)
	if err != nil {
		return nil, models.NewEngineError(models.ErrSourceUnavailable, err, "connect to target %s", targetID)
	}

	var snapshot []models.StatementSnapshot
	if err := db.SelectContext(ctx, &snapshot, statementStatsQuery); err != nil {
		return nil, models.NewEngineError(models.ErrSourceUnavailable, err, "fetch statement stats from target %s", targetID)
	}
	return snapshot, nil
}

func (s *PostgresSource) conn(targetID string) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.conns[targetID]; ok {
		return db, nil
	}

	dsn, err := s.resolve(targetID)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open target %s: %w", targetID, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	s.conns[targetID] = db
	return db, nil
}

// Close releases every cached target connection.
func (s *PostgresSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, db := range s.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close target %s: %w", id, err)
		}
		delete(s.conns, id)
	}
	return firstErr
}
