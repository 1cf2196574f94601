package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/timmy/batchmigrate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const existingKeysChunk = 500

// RecordRepository is the downstream sink for migrated records.
type RecordRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db, now: time.Now}
}

// CommitRecord writes rec under (schema, natural key). Re-committing the same
// job's same row overwrites it, which keeps resume and retry idempotent. A
// key already held by another job or row is left untouched and reported as a
// terminal commit error, so the earliest commit wins.
// Parameters:
//   - ctx: context carrying the per-commit deadline.
//   - rec: transformed record to commit.
//
// Returns:
//   - error: *domain.CommitError classified as retryable or terminal.
func (r *RecordRepository) CommitRecord(ctx context.Context, rec domain.Record) error {
	if rec.Key == "" {
		return &domain.CommitError{Class: domain.CommitTerminal, Row: rec.Row, Cause: errors.New("record has no natural key")}
	}

	row := domain.CommittedRecord{
		SchemaName:  rec.SchemaName,
		NaturalKey:  rec.Key,
		JobID:       rec.JobID,
		Row:         rec.Row,
		Payload:     rec.Fields,
		CommittedAt: r.now().UTC(),
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schema_name"}, {Name: "natural_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "committed_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "committed_records.job_id = excluded.job_id AND committed_records.row_num = excluded.row_num"},
		}},
	}).Create(&row)
	if result.Error != nil {
		return &domain.CommitError{Class: classifyCommit(ctx, result.Error), Row: rec.Row, Key: rec.Key, Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		return &domain.CommitError{Class: domain.CommitTerminal, Row: rec.Row, Key: rec.Key, Cause: r.keyHolder(ctx, rec)}
	}
	return nil
}

// keyHolder describes which commit already owns rec's natural key.
func (r *RecordRepository) keyHolder(ctx context.Context, rec domain.Record) error {
	var held domain.CommittedRecord
	err := r.db.WithContext(ctx).
		Where("schema_name = ? AND natural_key = ?", rec.SchemaName, rec.Key).
		Take(&held).Error
	if err != nil {
		return domain.ErrKeyCommitted
	}
	return fmt.Errorf("%w by job %s row %d", domain.ErrKeyCommitted, held.JobID, held.Row)
}

// classifyCommit treats constraint violations as permanent and everything
// else, timeouts included, as worth another attempt.
func classifyCommit(ctx context.Context, err error) domain.CommitClass {
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return domain.CommitRetryable
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated),
		errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidValue):
		return domain.CommitTerminal
	default:
		return domain.CommitRetryable
	}
}

// ExistingKeys returns which of keys are already committed under schema by
// a job other than excludeJobID.
func (r *RecordRepository) ExistingKeys(ctx context.Context, schema string, keys []string, excludeJobID string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, chunk := range lo.Chunk(lo.Uniq(keys), existingKeysChunk) {
		q := r.db.WithContext(ctx).Model(&domain.CommittedRecord{}).
			Where("schema_name = ? AND natural_key IN ?", schema, chunk)
		if excludeJobID != "" {
			q = q.Where("job_id <> ?", excludeJobID)
		}
		var hits []string
		if err := q.Pluck("natural_key", &hits).Error; err != nil {
			return nil, err
		}
		for _, k := range hits {
			found[k] = true
		}
	}
	return found, nil
}

// CountRecords returns how many records are committed under schema.
func (r *RecordRepository) CountRecords(ctx context.Context, schema string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.CommittedRecord{}).
		Where("schema_name = ?", schema).
		Count(&count).Error
	return count, err
}

// ListRecords returns records last written by jobID, in row order.
func (r *RecordRepository) ListRecords(ctx context.Context, jobID string) ([]domain.CommittedRecord, error) {
	var records []domain.CommittedRecord
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("row_num ASC").Find(&records).Error
	return records, err
}
