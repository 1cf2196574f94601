package repository

import (
	"context"
	"time"

	"github.com/timmy/batchmigrate/internal/domain"
	"gorm.io/gorm"
)

// OrphanRepository tracks blobs written without a matching asset row.
type OrphanRepository struct {
	db *gorm.DB
}

// NewOrphanRepository creates a new OrphanRepository.
func NewOrphanRepository(db *gorm.DB) *OrphanRepository {
	return &OrphanRepository{db: db}
}

// RecordOrphan inserts an unresolved orphan entry.
func (r *OrphanRepository) RecordOrphan(ctx context.Context, orphan *domain.OrphanBlob) error {
	return r.db.WithContext(ctx).Create(orphan).Error
}

// ListOrphans returns unresolved orphans with fewer than maxAttempts attempts.
// A non-positive maxAttempts disables that bound.
func (r *OrphanRepository) ListOrphans(ctx context.Context, maxAttempts, limit int) ([]domain.OrphanBlob, error) {
	q := r.db.WithContext(ctx).Where("resolved_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	var orphans []domain.OrphanBlob
	err := paginate(q, limit, 0).Order("id ASC").Find(&orphans).Error
	return orphans, err
}

// ResolveOrphan marks the orphan handled.
func (r *OrphanRepository) ResolveOrphan(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.OrphanBlob{}).
		Where("id = ?", id).
		Update("resolved_at", at).Error
}

// TouchOrphan counts one more failed reconciliation attempt.
func (r *OrphanRepository) TouchOrphan(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&domain.OrphanBlob{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error
}
