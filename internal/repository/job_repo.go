package repository

import (
	"context"

	"github.com/timmy/batchmigrate/internal/domain"
	"gorm.io/gorm"
)

// JobRepository persists migration jobs.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job while holding the lock on its asset row.
// Returns *domain.NotFoundError when the asset is gone.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.MigrationJob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockAsset(tx, job.AssetID); err != nil {
			return err
		}
		return tx.Create(job).Error
	})
}

// GetJob retrieves a job by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//
// Returns:
//   - *domain.MigrationJob: job record if found.
//   - error: *domain.NotFoundError when no job has this ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.MigrationJob, error) {
	var job domain.MigrationJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	return &job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.MigrationJob, error) {
	q := r.db.WithContext(ctx).Model(&domain.MigrationJob{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AssetID != "" {
		q = q.Where("asset_id = ?", filter.AssetID)
	}

	var jobs []domain.MigrationJob
	if err := paginate(q, filter.Limit, filter.Offset).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJob writes every column of job.
func (r *JobRepository) UpdateJob(ctx context.Context, job *domain.MigrationJob) error {
	res := r.db.WithContext(ctx).Save(job)
	return res.Error
}

// hasActiveJobs reports whether a pending, running or paused job references the asset.
func hasActiveJobs(db *gorm.DB, assetID string) (bool, error) {
	var count int64
	err := db.Model(&domain.MigrationJob{}).
		Where("asset_id = ? AND status IN ?", assetID, []domain.JobStatus{
			domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusPaused,
		}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RunningJobIDs lists the IDs of running jobs, oldest first.
func (r *JobRepository) RunningJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.MigrationJob{}).
		Where("status = ?", domain.JobStatusRunning).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}
