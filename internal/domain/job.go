package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a migration job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultErrorDetailsCap bounds ErrorDetails when no capacity is configured.
const DefaultErrorDetailsCap = 50

// CanTransitionTo reports whether the state machine allows s -> next.
//
//	pending -> running
//	running -> paused | completed | failed
//	paused  -> running
//	failed  -> running (retry)
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusPaused || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusPaused:
		return next == JobStatusRunning
	case JobStatusFailed:
		return next == JobStatusRunning
	default:
		return false
	}
}

// IsTerminal reports whether no further progress happens without a retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether a job in this state still holds its asset.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusPaused
}

// ParseJobStatus returns the status named by s and whether it is known.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s), true
	}
	return "", false
}

// ErrorDetail summarizes one failed record.
type ErrorDetail struct {
	Row     int       `json:"row"`
	Key     string    `json:"key,omitempty"`
	Class   string    `json:"class"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ErrorDetails is a fixed-capacity list that drops the oldest entry on overflow.
type ErrorDetails []ErrorDetail

// Append adds d and trims the list to at most capacity entries.
func (e ErrorDetails) Append(d ErrorDetail, capacity int) ErrorDetails {
	if capacity <= 0 {
		capacity = DefaultErrorDetailsCap
	}
	e = append(e, d)
	if over := len(e) - capacity; over > 0 {
		trimmed := make(ErrorDetails, capacity)
		copy(trimmed, e[over:])
		return trimmed
	}
	return e
}

// Value implements the driver.Valuer interface for database serialization.
func (e ErrorDetails) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (e *ErrorDetails) Scan(value interface{}) error {
	if value == nil {
		*e = ErrorDetails{}
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, e)
}

// MigrationJob is one run (or retry) of migrating one dataset.
type MigrationJob struct {
	ID                   string       `gorm:"type:text;primaryKey" json:"id"`
	Name                 string       `gorm:"type:text;not null" json:"name"`
	AssetID              string       `gorm:"type:text;not null;index" json:"asset_id"`
	SchemaName           string       `gorm:"type:text;not null" json:"schema_name"`
	Status               JobStatus    `gorm:"type:text;not null;default:pending;index" json:"status"`
	TotalRecords         int          `gorm:"not null;default:0" json:"total_records"`
	ProcessedRecords     int          `gorm:"not null;default:0" json:"processed_records"`
	ErrorCount           int          `gorm:"not null;default:0" json:"error_count"`
	SkippedRecords       int          `gorm:"not null;default:0" json:"skipped_records"`
	ErrorDetails         ErrorDetails `gorm:"type:text" json:"error_details"`
	ValidationID         string       `gorm:"type:text" json:"validation_id"`
	Attempt              int          `gorm:"not null;default:1" json:"attempt"`
	FailureThreshold     float64      `gorm:"not null;default:0" json:"failure_threshold"`
	WarningsAcknowledged bool         `gorm:"not null;default:false" json:"warnings_acknowledged"`
	StartedAt            *time.Time   `json:"started_at,omitempty"`
	FinishedAt           *time.Time   `json:"finished_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// TableName returns the database table name for MigrationJob.
func (MigrationJob) TableName() string {
	return "migration_jobs"
}

// Clone returns a deep copy safe to hand to readers.
func (j *MigrationJob) Clone() *MigrationJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.ErrorDetails != nil {
		c.ErrorDetails = make(ErrorDetails, len(j.ErrorDetails))
		copy(c.ErrorDetails, j.ErrorDetails)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// FailureRatio is ErrorCount over TotalRecords, zero for empty jobs.
func (j *MigrationJob) FailureRatio() float64 {
	if j.TotalRecords == 0 {
		return 0
	}
	return float64(j.ErrorCount) / float64(j.TotalRecords)
}

// Remaining is the number of records not yet processed.
func (j *MigrationJob) Remaining() int {
	return j.TotalRecords - j.ProcessedRecords
}

// JobActivity is what the scheduler is doing with a running job right now.
type JobActivity string

const (
	ActivityIdle    JobActivity = "idle"
	ActivityWaiting JobActivity = "waiting"
	ActivityTicking JobActivity = "ticking"
)

// JobFilter narrows job listings.
type JobFilter struct {
	Status  JobStatus
	AssetID string
	Limit   int
	Offset  int
}
