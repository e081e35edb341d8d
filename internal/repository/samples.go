package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/philmcc/dbdash-backend/internal/canonical"
	"github.com/philmcc/dbdash-backend/internal/models"
)

// IngestSample records one telemetry tuple for a target. The canonical row
// keyed by (target_id, canonical_fingerprint) and the sample row keyed by
// (target_id, raw_fingerprint) are upserted in a single transaction, and
// the canonical's derived counters are recomputed before commit.
//
// The canonical upsert is an atomic insert-if-absent (ON CONFLICT DO
// NOTHING against the unique index) followed by a fetch, never a
// check-then-insert, so two concurrent ingestions of the same new
// fingerprint converge on one durable row.
func (r *SQLiteRepository) IngestSample(ctx context.Context, targetID, rawText string, stats models.StatementStats) (*models.IngestResult, error) {
	canonicalText, canonicalFP := canonical.NormalizeAndFingerprint(rawText)
	rawFP := canonical.Fingerprint(rawText)
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, models.NewEngineError(models.ErrStoreWriteFailure, err, "begin ingest transaction")
	}
	defer tx.Rollback()

	canonicalID, isNewCanonical, err := upsertCanonical(ctx, tx, targetID, canonicalText, canonicalFP, now)
	if err != nil {
		return nil, err
	}

	isNewSample, previousCanonicalID, err := upsertSample(ctx, tx, canonicalID, targetID, rawText, rawFP, stats, now)
	if err != nil {
		return nil, err
	}

	if err := recomputeCounters(ctx, tx, canonicalID, now); err != nil {
		return nil, err
	}
	// A sample can migrate between canonicals if normalization rules
	// change between releases; the abandoned parent needs a recompute too.
	if previousCanonicalID != "" && previousCanonicalID != canonicalID {
		if err := recomputeCounters(ctx, tx, previousCanonicalID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, models.NewEngineError(models.ErrStoreWriteFailure, err, "commit ingest for target %s", targetID)
	}

	return &models.IngestResult{
		CanonicalQueryID: canonicalID,
		IsNewCanonical:   isNewCanonical,
		IsNewSample:      isNewSample,
	}, nil
}

func upsertCanonical(ctx context.Context, tx *sqlx.Tx, targetID, canonicalText, canonicalFP string, now time.Time) (string, bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO canonical_queries
			(id, target_id, canonical_text, canonical_fingerprint, first_seen_at, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id, canonical_fingerprint) DO NOTHING
	`, uuid.New().String(), targetID, canonicalText, canonicalFP, now, now, now)
	if err != nil {
		return "", false, models.NewEngineError(models.ErrStoreWriteFailure, err, "upsert canonical query for target %s", targetID)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return "", false, models.NewEngineError(models.ErrStoreWriteFailure, err, "upsert canonical query for target %s", targetID)
	}

	var canonicalID string
	err = tx.GetContext(ctx, &canonicalID, `
		SELECT id FROM canonical_queries WHERE target_id = ? AND canonical_fingerprint = ?
	`, targetID, canonicalFP)
	if err != nil {
		return "", false, models.NewEngineError(models.ErrStoreWriteFailure, err, "fetch canonical query for target %s", targetID)
	}

	if inserted == 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE canonical_queries SET last_seen_at = ?, updated_at = ? WHERE id = ?
		`, now, now, canonicalID)
		if err != nil {
			return "", false, models.NewEngineError(models.ErrStoreWriteFailure, err, "touch canonical query %s", canonicalID)
		}
	}
	return canonicalID, inserted > 0, nil
}

func upsertSample(ctx context.Context, tx *sqlx.Tx, canonicalID, targetID, rawText, rawFP string, stats models.StatementStats, now time.Time) (isNew bool, previousCanonicalID string, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO query_samples
			(id, canonical_query_id, target_id, raw_text, raw_fingerprint,
			 calls, total_time_ms, min_time_ms, max_time_ms, mean_time_ms,
			 collected_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id, raw_fingerprint) DO NOTHING
	`, uuid.New().String(), canonicalID, targetID, rawText, rawFP,
		stats.Calls, stats.TotalTimeMs, stats.MinTimeMs, stats.MaxTimeMs, stats.MeanTimeMs,
		now, now)
	if err != nil {
		return false, "", models.NewEngineError(models.ErrStoreWriteFailure, err, "upsert sample for target %s", targetID)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, "", models.NewEngineError(models.ErrStoreWriteFailure, err, "upsert sample for target %s", targetID)
	}
	if inserted > 0 {
		return true, "", nil
	}

	err = tx.GetContext(ctx, &previousCanonicalID, `
		SELECT canonical_query_id FROM query_samples WHERE target_id = ? AND raw_fingerprint = ?
	`, targetID, rawFP)
	if err != nil {
		return false, "", models.NewEngineError(models.ErrStoreWriteFailure, err, "fetch sample for target %s", targetID)
	}

	// Re-observed raw text: statistics are overwritten, not accumulated.
	// The source reports running totals itself.
	_, err = tx.ExecContext(ctx, `
		UPDATE query_samples
		SET canonical_query_id = ?, calls = ?, total_time_ms = ?, min_time_ms = ?,
		    max_time_ms = ?, mean_time_ms = ?, last_updated_at = ?
		WHERE target_id = ? AND raw_fingerprint = ?
	`, canonicalID, stats.Calls, stats.TotalTimeMs, stats.MinTimeMs, stats.MaxTimeMs,
		stats.MeanTimeMs, now, targetID, rawFP)
	if err != nil {
		return false, "", models.NewEngineError(models.ErrStoreWriteFailure, err, "update sample for target %s", targetID)
	}
	return false, previousCanonicalID, nil
}

// recomputeCounters keeps the canonical row's derived counters equal to a
// live function of its child samples. Always a full re-aggregation; child
// sets are small and incremental deltas compound errors.
func recomputeCounters(ctx context.Context, tx *sqlx.Tx, canonicalQueryID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE canonical_queries
		SET distinct_variant_count = (
		        SELECT COUNT(DISTINCT raw_fingerprint) FROM query_samples WHERE canonical_query_id = ?
		    ),
		    instance_count = (
		        SELECT COUNT(*) FROM query_samples WHERE canonical_query_id = ?
		    ),
		    updated_at = ?
		WHERE id = ?
	`, canonicalQueryID, canonicalQueryID, now, canonicalQueryID)
	if err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "recompute counters for canonical %s", canonicalQueryID)
	}
	return nil
}

// GetCanonicalQuery returns one canonical row by id.
func (r *SQLiteRepository) GetCanonicalQuery(ctx context.Context, id string) (*models.CanonicalQuery, error) {
	var q models.CanonicalQuery
	err := r.db.GetContext(ctx, &q, `SELECT * FROM canonical_queries WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, models.NewEngineError(models.ErrInvalidClassification, nil, "canonical query not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical query %s: %w", id, err)
	}
	return &q, nil
}

// ListCanonicalQueries returns a target's canonical rows, newest first,
// narrowed by the filter.
func (r *SQLiteRepository) ListCanonicalQueries(ctx context.Context, targetID string, filter models.QueryFilter) ([]*models.CanonicalQuery, error) {
	query := `SELECT * FROM canonical_queries WHERE target_id = ?`
	args := []interface{}{targetID}

	if filter.KnownOnly {
		query += " AND is_known = 1"
	}
	if filter.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, filter.GroupID)
	}
	if filter.From != nil {
		query += " AND last_seen_at >= ?"
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		query += " AND last_seen_at <= ?"
		args = append(args, filter.To.UTC())
	}
	if filter.TextSearch != "" {
		query += " AND canonical_text LIKE ?"
		args = append(args, "%"+filter.TextSearch+"%")
	}
	query += " ORDER BY last_seen_at DESC"

	var queries []*models.CanonicalQuery
	err := r.db.SelectContext(ctx, &queries, query, args...)
	return queries, err
}

// ListSamples returns the retained samples under one canonical query.
func (r *SQLiteRepository) ListSamples(ctx context.Context, canonicalQueryID string) ([]*models.QuerySample, error) {
	var samples []*models.QuerySample
	err := r.db.SelectContext(ctx, &samples, `
		SELECT * FROM query_samples WHERE canonical_query_id = ? ORDER BY last_updated_at DESC
	`, canonicalQueryID)
	return samples, err
}

// SetClassification applies a partial classification update. Group
// membership is opaque foreign data; only the canonical row's existence
// is validated.
func (r *SQLiteRepository) SetClassification(ctx context.Context, canonicalQueryID string, update models.ClassificationUpdate) error {
	query := `UPDATE canonical_queries SET updated_at = ?`
	args := []interface{}{time.Now().UTC()}

	if update.IsKnown != nil {
		query += ", is_known = ?"
		args = append(args, *update.IsKnown)
	}
	if update.GroupID != nil {
		query += ", group_id = ?"
		if *update.GroupID == "" {
			args = append(args, nil)
		} else {
			args = append(args, *update.GroupID)
		}
	}
	query += " WHERE id = ?"
	args = append(args, canonicalQueryID)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "set classification for %s", canonicalQueryID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set classification for %s: %w", canonicalQueryID, err)
	}
	if affected == 0 {
		return models.NewEngineError(models.ErrInvalidClassification, nil, "canonical query not found: %s", canonicalQueryID)
	}
	return nil
}

// ListTargets returns every target id with at least one canonical query.
func (r *SQLiteRepository) ListTargets(ctx context.Context) ([]string, error) {
	var targets []string
	err := r.db.SelectContext(ctx, &targets, `SELECT DISTINCT target_id FROM canonical_queries ORDER BY target_id`)
	return targets, err
}
