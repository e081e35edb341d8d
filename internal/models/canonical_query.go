package models

import "time"

// CanonicalQuery is one distinct query shape observed on a monitored target.
// A shape is the statement text after parameter values are replaced by
// placeholders, so executions that differ only in bound values (or IN-list
// cardinality) map to the same row.
type CanonicalQuery struct {
	ID                   string    `json:"id" db:"id"`
	TargetID             string    `json:"target_id" db:"target_id"`
	CanonicalText        string    `json:"canonical_text" db:"canonical_text"`
	CanonicalFingerprint string    `json:"canonical_fingerprint" db:"canonical_fingerprint"`
	FirstSeenAt          time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt           time.Time `json:"last_seen_at" db:"last_seen_at"`
	IsKnown              bool      `json:"is_known" db:"is_known"`
	GroupID              *string   `json:"group_id,omitempty" db:"group_id"`
	DistinctVariantCount int       `json:"distinct_variant_count" db:"distinct_variant_count"`
	InstanceCount        int       `json:"instance_count" db:"instance_count"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// CanonicalQueryDetail is a canonical query plus its currently retained samples.
type CanonicalQueryDetail struct {
	CanonicalQuery
	Samples []*QuerySample `json:"samples"`
}

// QueryFilter narrows ListCanonicalQueries results.
type QueryFilter struct {
	KnownOnly  bool       `json:"known_only"`
	GroupID    string     `json:"group_id"`
	From       *time.Time `json:"from"`
	To         *time.Time `json:"to"`
	TextSearch string     `json:"text_search"`
}

// ClassificationUpdate is a partial update of a canonical query's user
// classification. Nil fields are left untouched.
type ClassificationUpdate struct {
	IsKnown *bool   `json:"is_known,omitempty"`
	GroupID *string `json:"group_id,omitempty"`
}

// IngestResult reports what a single sample ingestion did.
type IngestResult struct {
	CanonicalQueryID string `json:"canonical_query_id"`
	IsNewCanonical   bool   `json:"is_new_canonical"`
	IsNewSample      bool   `json:"is_new_sample"`
}
