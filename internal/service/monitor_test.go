package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/philmcc/dbdash-backend/internal/config"
	"github.com/philmcc/dbdash-backend/internal/models"
	"github.com/philmcc/dbdash-backend/internal/repository"
	"github.com/philmcc/dbdash-backend/internal/telemetry"
	"github.com/philmcc/dbdash-backend/migrations"
)

func newTestStore(t *testing.T) *repository.SQLiteRepository {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	migrationSQL, err := migrations.All()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	if err := repo.RunMigrations(migrationSQL); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultIntervalSec:     60,
		SourceTimeoutSec:       5,
		RetentionDays:          7,
		MaintenanceIntervalSec: 3600,
		ReconcileEnabled:       true,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotRow(raw string, calls int64) models.StatementSnapshot {
	return models.StatementSnapshot{
		RawText: raw,
		StatementStats: models.StatementStats{
			Calls: calls, TotalTimeMs: 100, MinTimeMs: 1, MaxTimeMs: 50, MeanTimeMs: 10,
		},
	}
}

func TestMonitorStartTwiceConflicts(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	m := NewMonitor(store, source, testConfig(), quietLogger())
	ctx := context.Background()

	if _, err := m.Start(ctx, "target-5", 60, nil); err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	defer m.StopAll(ctx)

	_, err := m.Start(ctx, "target-5", 60, nil)
	if err == nil {
		t.Fatal("Second start must fail")
	}
	if !models.IsKind(err, models.ErrSessionStateConflict) {
		t.Errorf("Expected SESSION_STATE_CONFLICT, got %v", err)
	}

	if err := m.Stop(ctx, "target-5"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := m.Start(ctx, "target-5", 60, nil); err != nil {
		t.Fatalf("Start after stop failed: %v", err)
	}
}

func TestMonitorStopNeverStarted(t *testing.T) {
	store := newTestStore(t)
	m := NewMonitor(store, telemetry.NewStaticSource(), testConfig(), quietLogger())

	err := m.Stop(context.Background(), "unknown-target")
	if err == nil {
		t.Fatal("Stop on a never-monitored target must fail")
	}
	if !models.IsKind(err, models.ErrSessionStateConflict) {
		t.Errorf("Expected SESSION_STATE_CONFLICT, got %v", err)
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	store := newTestStore(t)
	m := NewMonitor(store, telemetry.NewStaticSource(), testConfig(), quietLogger())
	ctx := context.Background()

	if _, err := m.Start(ctx, "target-1", 60, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Stop(ctx, "target-1"); err != nil {
		t.Fatalf("First stop failed: %v", err)
	}
	if err := m.Stop(ctx, "target-1"); err != nil {
		t.Errorf("Second stop should be a no-op, got %v", err)
	}
}

func TestMonitorCycleIngestsSnapshot(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	source.SetSnapshot("target-1", []models.StatementSnapshot{
		snapshotRow("SELECT * FROM t WHERE id IN ($1,$2)", 4),
		snapshotRow("SELECT * FROM t WHERE id IN ($1)", 2),
	})
	m := NewMonitor(store, source, testConfig(), quietLogger())
	ctx := context.Background()

	if _, err := m.Start(ctx, "target-1", 60, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.StopAll(ctx)

	// The first cycle runs immediately on start.
	waitFor(t, time.Second, func() bool {
		queries, err := store.ListCanonicalQueries(ctx, "target-1", models.QueryFilter{})
		return err == nil && len(queries) == 1 && queries[0].DistinctVariantCount == 2
	})

	sessions, err := m.ListSessions(ctx, "target-1")
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].LastRunAt == nil {
		t.Error("last_run_at should be recorded after the first cycle")
	}
}

func TestMonitorScheduledEndCompletesSession(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	m := NewMonitor(store, source, testConfig(), quietLogger())
	ctx := context.Background()

	end := time.Now().UTC().Add(-time.Second) // already elapsed
	if _, err := m.Start(ctx, "target-1", 60, &end); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		sessions, err := m.ListSessions(ctx, "target-1")
		return err == nil && len(sessions) == 1 && sessions[0].Status == models.SessionStatusCompleted
	})

	// A completed target can be started again.
	if _, err := m.Start(ctx, "target-1", 60, nil); err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
	m.StopAll(ctx)
}

func TestMonitorSourceErrorKeepsSessionRunning(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	source.SetError("target-1", errors.New("connection refused"))
	m := NewMonitor(store, source, testConfig(), quietLogger())
	ctx := context.Background()

	if _, err := m.Start(ctx, "target-1", 60, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.StopAll(ctx)

	waitFor(t, time.Second, func() bool { return source.Fetches() >= 1 })

	// The failed cycle is skipped; the session survives it.
	running, err := store.GetRunningSession(ctx, "target-1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if running == nil {
		t.Fatal("Session must keep running after a source failure")
	}

	queries, _ := store.ListCanonicalQueries(ctx, "target-1", models.QueryFilter{})
	if len(queries) != 0 {
		t.Errorf("No rows should be ingested from a failed fetch, got %d", len(queries))
	}
}

func TestMonitorPartialBatchFailureTolerated(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	// An empty raw text still canonicalizes (to the empty shape) rather
	// than aborting the batch; the rows around it ingest normally.
	source.SetSnapshot("target-1", []models.StatementSnapshot{
		snapshotRow("SELECT * FROM a WHERE id = $1", 1),
		snapshotRow("", 1),
		snapshotRow("SELECT * FROM b WHERE id = $1", 1),
	})
	m := NewMonitor(store, source, testConfig(), quietLogger())
	ctx := context.Background()

	if err := m.CollectNow(ctx, "target-1"); err != nil {
		t.Fatalf("CollectNow failed: %v", err)
	}

	queries, err := store.ListCanonicalQueries(ctx, "target-1", models.QueryFilter{})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(queries) != 3 {
		t.Errorf("Expected 3 canonical rows, got %d", len(queries))
	}
}

func TestCollectNowWithoutSession(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	source.SetSnapshot("target-9", []models.StatementSnapshot{
		snapshotRow("SELECT count(*) FROM jobs WHERE state = $1", 12),
	})
	m := NewMonitor(store, source, testConfig(), quietLogger())
	ctx := context.Background()

	if err := m.CollectNow(ctx, "target-9"); err != nil {
		t.Fatalf("CollectNow failed: %v", err)
	}

	queries, _ := store.ListCanonicalQueries(ctx, "target-9", models.QueryFilter{})
	if len(queries) != 1 {
		t.Fatalf("Expected 1 canonical row, got %d", len(queries))
	}

	// No session was created by the manual trigger.
	sessions, _ := m.ListSessions(ctx, "target-9")
	if len(sessions) != 0 {
		t.Errorf("Manual collection must not create sessions, got %d", len(sessions))
	}
}

func TestCollectNowSourceError(t *testing.T) {
	store := newTestStore(t)
	source := telemetry.NewStaticSource()
	source.SetError("target-1", errors.New("timeout"))
	m := NewMonitor(store, source, testConfig(), quietLogger())

	err := m.CollectNow(context.Background(), "target-1")
	if err == nil {
		t.Fatal("Expected error from failed fetch")
	}
	if !models.IsKind(err, models.ErrSourceUnavailable) {
		t.Errorf("Expected SOURCE_UNAVAILABLE, got %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}
