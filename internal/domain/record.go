package domain

import "time"

// Record is one dataset row on its way to the downstream store.
type Record struct {
	JobID      string
	SchemaName string
	Row        int
	Key        string
	Fields     StringMap
}

// CommittedRecord is a record accepted by the downstream store.
// (SchemaName, NaturalKey) is unique, so re-committing a record overwrites it.
type CommittedRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SchemaName  string    `gorm:"type:text;not null;uniqueIndex:idx_record_natural_key" json:"schema_name"`
	NaturalKey  string    `gorm:"type:text;not null;uniqueIndex:idx_record_natural_key" json:"natural_key"`
	JobID       string    `gorm:"type:text;not null;index" json:"job_id"`
	Row         int       `gorm:"column:row_num" json:"row"`
	Payload     StringMap `gorm:"type:text" json:"payload"`
	CommittedAt time.Time `json:"committed_at"`
}

// TableName returns the database table name for CommittedRecord.
func (CommittedRecord) TableName() string {
	return "committed_records"
}
