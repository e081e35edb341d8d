// Package telemetry provides read-only access to a monitored database's
// live statement-execution statistics. The engine treats a source as
// untrusted input: row count and ordering are unstable between polls and
// row identity is exact text match only.
package telemetry

import (
	"context"

	"github.com/philmcc/dbdash-backend/internal/models"
)

// Source returns a point-in-time snapshot of statement statistics for a
// monitored target. An empty snapshot is valid. Implementations must
// honor ctx cancellation; the poller bounds every call with a timeout
// shorter than its polling interval.
type Source interface {
	FetchSnapshot(ctx context.Context, targetID string) ([]models.StatementSnapshot, error)
}
