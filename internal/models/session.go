package models

import "time"

// Monitoring session status values.
const (
	SessionStatusRunning   = "running"
	SessionStatusStopped   = "stopped"
	SessionStatusCompleted = "completed"
)

// MonitoringSession is the scheduling state for one monitored target.
// At most one session per target may be running at a time; the running
// session owns that target's polling loop.
type MonitoringSession struct {
	ID               string     `json:"id" db:"id"`
	TargetID         string     `json:"target_id" db:"target_id"`
	IntervalSeconds  int        `json:"interval_seconds" db:"interval_seconds"`
	ScheduledEndTime *time.Time `json:"scheduled_end_time,omitempty" db:"scheduled_end_time"`
	Status           string     `json:"status" db:"status"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
}

// Expired reports whether the session's scheduled end time has passed.
// Sessions without an end time never expire on their own.
func (s *MonitoringSession) Expired(now time.Time) bool {
	return s.ScheduledEndTime != nil && now.After(*s.ScheduledEndTime)
}
