package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// CreateSession persists a new monitoring session. The id is generated
// when absent; callers own the invariant that only one running session
// exists per target (the monitor registry enforces it).
func (r *SQLiteRepository) CreateSession(ctx context.Context, session *models.MonitoringSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusRunning
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitoring_sessions
			(id, target_id, interval_seconds, scheduled_end_time, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.TargetID, session.IntervalSeconds, session.ScheduledEndTime,
		session.Status, session.StartedAt)
	if err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "create session for target %s", session.TargetID)
	}
	return nil
}

// GetRunningSession returns the running session for a target, or nil.
func (r *SQLiteRepository) GetRunningSession(ctx context.Context, targetID string) (*models.MonitoringSession, error) {
	var session models.MonitoringSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM monitoring_sessions WHERE target_id = ? AND status = ? LIMIT 1
	`, targetID, models.SessionStatusRunning)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running session for target %s: %w", targetID, err)
	}
	return &session, nil
}

// ListSessions returns a target's sessions, newest first.
func (r *SQLiteRepository) ListSessions(ctx context.Context, targetID string) ([]*models.MonitoringSession, error) {
	var sessions []*models.MonitoringSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM monitoring_sessions WHERE target_id = ? ORDER BY started_at DESC
	`, targetID)
	return sessions, err
}

// FinishSession transitions a session out of the running state.
func (r *SQLiteRepository) FinishSession(ctx context.Context, sessionID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE monitoring_sessions SET status = ?, stopped_at = ? WHERE id = ?
	`, status, time.Now().UTC(), sessionID)
	if err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "finish session %s", sessionID)
	}
	return nil
}

// TouchSessionLastRun records the completion time of a poll cycle.
func (r *SQLiteRepository) TouchSessionLastRun(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE monitoring_sessions SET last_run_at = ? WHERE id = ?
	`, at.UTC(), sessionID)
	if err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "touch session %s", sessionID)
	}
	return nil
}

// RecoverOrphanedSessions marks sessions left running by a previous
// process as stopped. Runs once at startup, before the registry accepts
// new starts; their polling loops died with the process.
func (r *SQLiteRepository) RecoverOrphanedSessions(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitoring_sessions SET status = ?, stopped_at = ? WHERE status = ?
	`, models.SessionStatusStopped, time.Now().UTC(), models.SessionStatusRunning)
	if err != nil {
		return 0, models.NewEngineError(models.ErrStoreWriteFailure, err, "recover orphaned sessions")
	}
	return res.RowsAffected()
}
