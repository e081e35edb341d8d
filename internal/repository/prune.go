package repository

import (
	"context"
	"time"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// PruneSamples deletes every sample whose last_updated_at is older than
// now minus the retention horizon, then recomputes counters for every
// canonical that lost children. Canonical rows are never deleted here,
// even when childless: the shape and its classification are durable
// knowledge independent of retained samples.
func (r *SQLiteRepository) PruneSamples(ctx context.Context, retention time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-retention)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, models.NewEngineError(models.ErrStoreWriteFailure, err, "begin prune transaction")
	}
	defer tx.Rollback()

	var affected []string
	err = tx.SelectContext(ctx, &affected, `
		SELECT DISTINCT canonical_query_id FROM query_samples WHERE last_updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, models.NewEngineError(models.ErrStoreWriteFailure, err, "find prunable samples")
	}
	if len(affected) == 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM query_samples WHERE last_updated_at < ?`, cutoff)
	if err != nil {
		return 0, models.NewEngineError(models.ErrStoreWriteFailure, err, "delete expired samples")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, models.NewEngineError(models.ErrStoreWriteFailure, err, "count deleted samples")
	}

	for _, canonicalID := range affected {
		if err := recomputeCounters(ctx, tx, canonicalID, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, models.NewEngineError(models.ErrStoreWriteFailure, err, "commit prune")
	}
	return deleted, nil
}
