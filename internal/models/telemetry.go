package models

// StatementStats are the aggregate execution statistics the telemetry
// source reports for one raw statement text. Times are milliseconds,
// following pg_stat_statements conventions.
type StatementStats struct {
	Calls       int64   `json:"calls" db:"calls"`
	TotalTimeMs float64 `json:"total_time_ms" db:"total_time_ms"`
	MinTimeMs   float64 `json:"min_time_ms" db:"min_time_ms"`
	MaxTimeMs   float64 `json:"max_time_ms" db:"max_time_ms"`
	MeanTimeMs  float64 `json:"mean_time_ms" db:"mean_time_ms"`
}

// StatementSnapshot is one row of a telemetry snapshot: a raw statement
// text plus its statistics. Row identity across polls is by exact text
// match only; neither ordering nor row count is stable between calls.
type StatementSnapshot struct {
	RawText string `json:"raw_text" db:"query"`
	StatementStats
}
