package telemetry

import (
	"context"
	"sync"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// StaticSource serves snapshots from memory. Used in tests and local
// development where no live database is reachable.
type StaticSource struct {
	mu        sync.Mutex
	snapshots map[string][]models.StatementSnapshot
	errs      map[string]error
	fetches   int
}

// NewStaticSource returns an empty in-memory source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		snapshots: make(map[string][]models.StatementSnapshot),
		errs:      make(map[string]error),
	}
}

// SetSnapshot replaces the snapshot a target will report.
func (s *StaticSource) SetSnapshot(targetID string, rows []models.StatementSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[targetID] = rows
	delete(s.errs, targetID)
}

// SetError makes every fetch for a target fail until the next SetSnapshot.
func (s *StaticSource) SetError(targetID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[targetID] = err
}

// Fetches returns how many snapshot calls the source has served.
func (s *StaticSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// FetchSnapshot returns a copy of the configured snapshot.
func (s *StaticSource) FetchSnapshot(ctx context.Context, targetID string) ([]models.StatementSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewEngineError(models.ErrSourceUnavailable, err, "fetch snapshot for target %s", targetID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	if err, ok := s.errs[targetID]; ok {
		return nil, models.NewEngineError(models.ErrSourceUnavailable, err, "fetch snapshot for target %s", targetID)
	}
	rows := s.snapshots[targetID]
	out := make([]models.StatementSnapshot, len(rows))
	copy(out, rows)
	return out, nil
}
