package domain

import "time"

// UploadStatus tracks the byte transfer of an asset.
type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusFailed    UploadStatus = "failed"
)

// CanTransitionTo reports whether the upload state machine allows s -> next.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	return s == UploadStatusUploading && (next == UploadStatusCompleted || next == UploadStatusFailed)
}

// ProcessingStatus tracks what the orchestrator has done with an asset.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusProcessed  ProcessingStatus = "processed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// CanTransitionTo reports whether the processing state machine allows s -> next.
// Processed is terminal; a failed asset goes back to processing on job retry.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case ProcessingStatusPending:
		return next == ProcessingStatusProcessing
	case ProcessingStatusProcessing:
		return next == ProcessingStatusProcessed || next == ProcessingStatusFailed
	case ProcessingStatusFailed:
		return next == ProcessingStatusProcessing
	default:
		return false
	}
}

// ComplianceStatus is the regulatory review outcome of an asset.
type ComplianceStatus string

const (
	ComplianceUnknown      ComplianceStatus = "unknown"
	ComplianceCompliant    ComplianceStatus = "compliant"
	ComplianceNonCompliant ComplianceStatus = "non_compliant"
)

// CanTransitionTo reports whether s -> next is allowed. Reviews may be revised.
func (s ComplianceStatus) CanTransitionTo(next ComplianceStatus) bool {
	switch s {
	case ComplianceUnknown:
		return next == ComplianceCompliant || next == ComplianceNonCompliant
	case ComplianceCompliant:
		return next == ComplianceNonCompliant
	case ComplianceNonCompliant:
		return next == ComplianceCompliant
	default:
		return false
	}
}

// SecurityScanStatus is the malware/content scan outcome of an asset.
type SecurityScanStatus string

const (
	ScanPending SecurityScanStatus = "pending"
	ScanClean   SecurityScanStatus = "clean"
	ScanFlagged SecurityScanStatus = "flagged"
)

// CanTransitionTo reports whether s -> next is allowed. Scan verdicts are final.
func (s SecurityScanStatus) CanTransitionTo(next SecurityScanStatus) bool {
	return s == ScanPending && (next == ScanClean || next == ScanFlagged)
}

// UploadedAsset is metadata for an ingested raw file.
type UploadedAsset struct {
	ID                 string             `gorm:"type:text;primaryKey" json:"id"`
	OwnerID            string             `gorm:"type:text;not null;index" json:"owner_id"`
	StoragePath        string             `gorm:"type:text;not null;uniqueIndex" json:"storage_path"`
	SizeBytes          int64              `gorm:"not null" json:"size_bytes"`
	Checksum           string             `gorm:"type:text;index" json:"checksum"` // hex SHA-256 of the content
	DeclaredName       string             `gorm:"type:text" json:"declared_name"`
	DeclaredType       string             `gorm:"type:text" json:"declared_type"`
	UploadStatus       UploadStatus       `gorm:"type:text;not null;default:uploading" json:"upload_status"`
	ProcessingStatus   ProcessingStatus   `gorm:"type:text;not null;default:pending;index" json:"processing_status"`
	ComplianceStatus   ComplianceStatus   `gorm:"type:text;not null;default:unknown" json:"compliance_status"`
	SecurityScanStatus SecurityScanStatus `gorm:"type:text;not null;default:pending" json:"security_scan_status"`
	Metadata           StringMap          `gorm:"type:text" json:"metadata,omitempty"`
	UploadedAt         time.Time          `json:"uploaded_at"`
	ProcessedAt        *time.Time         `json:"processed_at,omitempty"`
}

// TableName returns the database table name for UploadedAsset.
func (UploadedAsset) TableName() string {
	return "uploaded_assets"
}

// AssetFilter narrows asset listings.
type AssetFilter struct {
	OwnerID          string
	ProcessingStatus ProcessingStatus
	Limit            int
	Offset           int
}

// OrphanBlob is a stored blob whose asset row was never written.
type OrphanBlob struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	StoragePath string     `gorm:"type:text;not null;index" json:"storage_path"`
	Reason      string     `gorm:"type:text" json:"reason"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// TableName returns the database table name for OrphanBlob.
func (OrphanBlob) TableName() string {
	return "orphan_blobs"
}
