package domain

import "time"

// HeaderRow is the row number of a dataset's header; data rows start at 2.
const HeaderRow = 1

// Issue is one validation problem located by row and column.
type Issue struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating one dataset against a schema.
// It is produced once per job attempt and never modified afterwards.
type ValidationResult struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	JobID          string    `gorm:"type:text;index" json:"job_id"`
	Attempt        int       `gorm:"not null;default:1" json:"attempt"`
	SchemaName     string    `gorm:"type:text" json:"schema_name"`
	IsValid        bool      `json:"is_valid"`
	Errors         Issues    `gorm:"type:text" json:"errors"`
	Warnings       Issues    `gorm:"type:text" json:"warnings"`
	RecordCount    int       `json:"record_count"`
	DuplicateCount int       `json:"duplicate_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for ValidationResult.
func (ValidationResult) TableName() string {
	return "validation_results"
}

// HasWarnings reports whether the result carries any non-blocking issue.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}
