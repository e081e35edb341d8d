package repository

import (
	"context"
	"time"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// SampleStore is the durable mapping from canonical fingerprint to
// aggregate record and from raw-text fingerprint to per-variant sample.
type SampleStore interface {
	IngestSample(ctx context.Context, targetID, rawText string, stats models.StatementStats) (*models.IngestResult, error)
	GetCanonicalQuery(ctx context.Context, id string) (*models.CanonicalQuery, error)
	ListCanonicalQueries(ctx context.Context, targetID string, filter models.QueryFilter) ([]*models.CanonicalQuery, error)
	ListSamples(ctx context.Context, canonicalQueryID string) ([]*models.QuerySample, error)
	SetClassification(ctx context.Context, canonicalQueryID string, update models.ClassificationUpdate) error
	ListTargets(ctx context.Context) ([]string, error)

	ReconcileDuplicates(ctx context.Context, targetID string) (int, error)
	PruneSamples(ctx context.Context, retention time.Duration) (int64, error)
}

// Store is the full persistence surface the engine's services consume.
type Store interface {
	SampleStore
	SessionStore
}

// SessionStore persists monitoring session lifecycle state.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.MonitoringSession) error
	GetRunningSession(ctx context.Context, targetID string) (*models.MonitoringSession, error)
	ListSessions(ctx context.Context, targetID string) ([]*models.MonitoringSession, error)
	FinishSession(ctx context.Context, sessionID, status string) error
	TouchSessionLastRun(ctx context.Context, sessionID string, at time.Time) error
	RecoverOrphanedSessions(ctx context.Context) (int64, error)
}
