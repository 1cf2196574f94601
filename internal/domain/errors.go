package domain

import (
	"errors"
	"fmt"
)

// ErrorKind names an error category that callers can render or map to a status code.
type ErrorKind string

const (
	KindAdmission  ErrorKind = "admission"
	KindValidation ErrorKind = "validation"
	KindCommit     ErrorKind = "commit"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindInvalid    ErrorKind = "invalid"
	KindStorage    ErrorKind = "storage"
	KindInternal   ErrorKind = "internal"
)

// AdmissionReason identifies which admission rule rejected an upload.
type AdmissionReason string

const (
	AdmissionTooLarge           AdmissionReason = "too_large"
	AdmissionTypeNotAllowed     AdmissionReason = "type_not_allowed"
	AdmissionUnauthenticated    AdmissionReason = "unauthenticated"
	AdmissionUnreadableEncoding AdmissionReason = "unreadable_encoding"
	AdmissionRateLimited        AdmissionReason = "rate_limited"
	AdmissionEmptyUpload        AdmissionReason = "empty_upload"
	AdmissionMalformedDataset   AdmissionReason = "malformed_dataset"
)

// AdmissionError rejects an upload before anything is written.
type AdmissionError struct {
	Reason AdmissionReason
	Detail string
}

func (e *AdmissionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upload rejected: %s", e.Reason)
	}
	return fmt.Sprintf("upload rejected: %s: %s", e.Reason, e.Detail)
}

// ValidationError blocks a job from running until its dataset validates.
type ValidationError struct {
	JobID        string
	ValidationID string
	Errors       int
	Warnings     int
	Reason       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("job %s blocked by validation %s: %s (errors=%d, warnings=%d)",
		e.JobID, e.ValidationID, e.Reason, e.Errors, e.Warnings)
}

// CommitClass separates transient commit failures from permanent ones.
type CommitClass string

const (
	CommitRetryable CommitClass = "retryable"
	CommitTerminal  CommitClass = "terminal"
)

// CommitError is a record-level failure raised while committing one row.
type CommitError struct {
	Class CommitClass
	Row   int
	Key   string
	Cause error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit row %d (key %q) failed [%s]: %v", e.Row, e.Key, e.Class, e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt may succeed.
func (e *CommitError) Retryable() bool { return e.Class == CommitRetryable }

// ErrKeyCommitted is the cause of a terminal CommitError for a natural key
// that an earlier row or job already committed.
var ErrKeyCommitted = errors.New("natural key already committed")

// ConflictError rejects an operation that the current state does not allow.
type ConflictError struct {
	Op     string
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Reason)
}

// NotFoundError is returned when an entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidInputError rejects a request whose arguments cannot be acted on.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a content store failure.
type StorageError struct {
	Op    string
	Path  string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// KindOf classifies err by the first typed error found in its chain.
func KindOf(err error) ErrorKind {
	var (
		admission  *AdmissionError
		validation *ValidationError
		commit     *CommitError
		conflict   *ConflictError
		notFound   *NotFoundError
		invalid    *InvalidInputError
		storage    *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &admission):
		return KindAdmission
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &invalid):
		return KindInvalid
	case errors.As(err, &commit):
		return KindCommit
	case errors.As(err, &storage):
		return KindStorage
	default:
		return KindInternal
	}
}

// IsRetryable reports whether err carries a retryable commit classification.
func IsRetryable(err error) bool {
	var commit *CommitError
	if errors.As(err, &commit) {
		return commit.Retryable()
	}
	return false
}
