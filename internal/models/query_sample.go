package models

import "time"

// QuerySample is one raw-text variant observed for a canonical shape,
// carrying the latest aggregate execution statistics the telemetry source
// reported for that exact text. Statistics are overwritten in place on
// every poll that re-observes the same raw text.
type QuerySample struct {
	ID               string    `json:"id" db:"id"`
	CanonicalQueryID string    `json:"canonical_query_id" db:"canonical_query_id"`
	TargetID         string    `json:"target_id" db:"target_id"`
	RawText          string    `json:"raw_text" db:"raw_text"`
	RawFingerprint   string    `json:"raw_fingerprint" db:"raw_fingerprint"`
	Calls            int64     `json:"calls" db:"calls"`
	TotalTimeMs      float64   `json:"total_time_ms" db:"total_time_ms"`
	MinTimeMs        float64   `json:"min_time_ms" db:"min_time_ms"`
	MaxTimeMs        float64   `json:"max_time_ms" db:"max_time_ms"`
	MeanTimeMs       float64   `json:"mean_time_ms" db:"mean_time_ms"`
	CollectedAt      time.Time `json:"collected_at" db:"collected_at"`
	LastUpdatedAt    time.Time `json:"last_updated_at" db:"last_updated_at"`
}
