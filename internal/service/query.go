package service

import (
	"context"
	"log/slog"

	"github.com/philmcc/dbdash-backend/internal/models"
	"github.com/philmcc/dbdash-backend/internal/repository"
)

// QueryService is the read/classify surface over collected query shapes.
// Classification changes are not synchronized with poll loops; they take
// effect on the next counter recomputation for the row.
type QueryService struct {
	store repository.SampleStore
	log   *slog.Logger
}

// NewQueryService creates a new query service
func NewQueryService(store repository.SampleStore, log *slog.Logger) *QueryService {
	return &QueryService{store: store, log: log}
}

// List returns a target's canonical queries narrowed by the filter.
func (s *QueryService) List(ctx context.Context, targetID string, filter models.QueryFilter) ([]*models.CanonicalQuery, error) {
	return s.store.ListCanonicalQueries(ctx, targetID, filter)
}

// Get returns a canonical query together with its retained samples.
func (s *QueryService) Get(ctx context.Context, canonicalQueryID string) (*models.CanonicalQueryDetail, error) {
	q, err := s.store.GetCanonicalQuery(ctx, canonicalQueryID)
	if err != nil {
		return nil, err
	}
	samples, err := s.store.ListSamples(ctx, canonicalQueryID)
	if err != nil {
		return nil, err
	}
	return &models.CanonicalQueryDetail{CanonicalQuery: *q, Samples: samples}, nil
}

// Classify applies a partial classification update to a canonical query.
func (s *QueryService) Classify(ctx context.Context, canonicalQueryID string, update models.ClassificationUpdate) error {
	if update.IsKnown == nil && update.GroupID == nil {
		return models.NewEngineError(models.ErrInvalidClassification, nil, "classification update is empty")
	}
	if err := s.store.SetClassification(ctx, canonicalQueryID, update); err != nil {
		return err
	}
	s.log.Debug("Classification updated", "canonical_query_id", canonicalQueryID)
	return nil
}
