package repository

import (
	"context"
	"errors"
	"time"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// duplicateMember is one canonical row inside a duplicate group, ordered
// for the keep/lose tie-break.
type duplicateMember struct {
	ID         string    `db:"id"`
	LastSeenAt time.Time `db:"last_seen_at"`
	ChildCount int       `db:"child_count"`
}

// ReconcileDuplicates merges canonical rows that share identical canonical
// text for the same target, a state reachable only when the atomic upsert
// guarantee was not enforced (older schema generations, foreign backends).
// For each group the most recently seen row wins (highest child count
// breaks ties), losing rows' samples are re-pointed at the winner, losers
// are deleted, and the winner's counters are recomputed. Each group is one
// transaction; a failed group rolls back alone and reconciliation
// continues. Running it again on clean data merges nothing.
func (r *SQLiteRepository) ReconcileDuplicates(ctx context.Context, targetID string) (int, error) {
	var texts []string
	err := r.db.SelectContext(ctx, &texts, `
		SELECT canonical_text FROM canonical_queries
		WHERE target_id = ?
		GROUP BY canonical_text
		HAVING COUNT(*) > 1
	`, targetID)
	if err != nil {
		return 0, models.NewEngineError(models.ErrConflictingCanonical, err, "detect duplicate canonicals for target %s", targetID)
	}

	merged := 0
	var groupErrs []error
	for _, text := range texts {
		if err := r.reconcileGroup(ctx, targetID, text); err != nil {
			groupErrs = append(groupErrs, err)
			continue
		}
		merged++
	}
	return merged, errors.Join(groupErrs...)
}

func (r *SQLiteRepository) reconcileGroup(ctx context.Context, targetID, canonicalText string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "begin reconcile transaction")
	}
	defer tx.Rollback()

	var members []duplicateMember
	err = tx.SelectContext(ctx, &members, `
		SELECT cq.id, cq.last_seen_at,
		       (SELECT COUNT(*) FROM query_samples s WHERE s.canonical_query_id = cq.id) AS child_count
		FROM canonical_queries cq
		WHERE cq.target_id = ? AND cq.canonical_text = ?
		ORDER BY cq.last_seen_at DESC, child_count DESC, cq.id
	`, targetID, canonicalText)
	if err != nil {
		return models.NewEngineError(models.ErrConflictingCanonical, err, "load duplicate group for target %s", targetID)
	}
	if len(members) < 2 {
		// Another reconciler already merged this group.
		return nil
	}

	winner := members[0]
	now := time.Now().UTC()
	for _, loser := range members[1:] {
		if _, err := tx.ExecContext(ctx, `
			UPDATE query_samples SET canonical_query_id = ?
			WHERE canonical_query_id = ?
		`, winner.ID, loser.ID); err != nil {
			return models.NewEngineError(models.ErrStoreWriteFailure, err, "re-point samples from %s to %s", loser.ID, winner.ID)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM canonical_queries WHERE id = ?
		`, loser.ID); err != nil {
			return models.NewEngineError(models.ErrStoreWriteFailure, err, "delete duplicate canonical %s", loser.ID)
		}
	}

	if err := recomputeCounters(ctx, tx, winner.ID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return models.NewEngineError(models.ErrStoreWriteFailure, err, "commit reconcile for target %s", targetID)
	}
	return nil
}
