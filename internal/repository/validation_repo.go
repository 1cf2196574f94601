package repository

import (
	"context"

	"github.com/timmy/batchmigrate/internal/domain"
	"gorm.io/gorm"
)

// ValidationRepository stores validation results. Results are write-once.
type ValidationRepository struct {
	db *gorm.DB
}

// NewValidationRepository creates a new ValidationRepository.
func NewValidationRepository(db *gorm.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// SaveValidation inserts a result.
func (r *ValidationRepository) SaveValidation(ctx context.Context, result *domain.ValidationResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

// GetValidation retrieves a result by ID.
func (r *ValidationRepository) GetValidation(ctx context.Context, id string) (*domain.ValidationResult, error) {
	var result domain.ValidationResult
	if err := r.db.WithContext(ctx).First(&result, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "validation", id)
	}
	return &result, nil
}

// ListValidations returns every result recorded for a job, by attempt.
func (r *ValidationRepository) ListValidations(ctx context.Context, jobID string) ([]domain.ValidationResult, error) {
	var results []domain.ValidationResult
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC, created_at ASC").
		Find(&results).Error
	return results, err
}
