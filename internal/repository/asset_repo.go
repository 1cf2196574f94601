package repository

import (
	"context"
	"errors"

	"github.com/timmy/batchmigrate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssetRepository persists uploaded asset metadata.
type AssetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// CreateAsset inserts asset metadata.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - asset: asset row to persist.
//
// Returns:
//   - error: *domain.ConflictError when the storage path is already claimed.
func (r *AssetRepository) CreateAsset(ctx context.Context, asset *domain.UploadedAsset) error {
	err := r.db.WithContext(ctx).Create(asset).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &domain.ConflictError{Op: "create", Entity: "asset", ID: asset.ID, Reason: "storage path already claimed"}
	}
	return err
}

// GetAsset retrieves an asset by ID.
func (r *AssetRepository) GetAsset(ctx context.Context, id string) (*domain.UploadedAsset, error) {
	var asset domain.UploadedAsset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "asset", id)
	}
	return &asset, nil
}

// AssetExistsByPath reports whether an asset row claims the storage path.
func (r *AssetRepository) AssetExistsByPath(ctx context.Context, path string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.UploadedAsset{}).
		Where("storage_path = ?", path).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AssetExistsByChecksum reports whether owner already uploaded content with checksum.
func (r *AssetRepository) AssetExistsByChecksum(ctx context.Context, owner, checksum string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.UploadedAsset{}).
		Where("owner_id = ? AND checksum = ?", owner, checksum).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAssets returns assets matching filter, newest first.
func (r *AssetRepository) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.UploadedAsset, error) {
	q := r.db.WithContext(ctx).Model(&domain.UploadedAsset{})
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.ProcessingStatus != "" {
		q = q.Where("processing_status = ?", filter.ProcessingStatus)
	}

	var assets []domain.UploadedAsset
	if err := paginate(q, filter.Limit, filter.Offset).Order("uploaded_at DESC").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// UpdateAsset writes every column of asset.
func (r *AssetRepository) UpdateAsset(ctx context.Context, asset *domain.UploadedAsset) error {
	return r.db.WithContext(ctx).Save(asset).Error
}

// DeleteAsset removes the asset row unless a pending, running or paused job
// references it. The check and the delete share one transaction holding the
// asset row lock that CreateJob also takes.
// Returns:
//   - *domain.UploadedAsset: the deleted row, for blob cleanup.
//   - error: *domain.NotFoundError or *domain.ConflictError.
func (r *AssetRepository) DeleteAsset(ctx context.Context, id string) (*domain.UploadedAsset, error) {
	var deleted *domain.UploadedAsset
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, id)
		if err != nil {
			return err
		}
		active, err := hasActiveJobs(tx, id)
		if err != nil {
			return err
		}
		if active {
			return &domain.ConflictError{Op: "delete", Entity: "asset", ID: id, Reason: "referenced by an unfinished job"}
		}
		res := tx.Delete(&domain.UploadedAsset{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &domain.NotFoundError{Entity: "asset", ID: id}
		}
		deleted = asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// lockAsset reads the asset row under a row lock so job creation and asset
// deletion on the same asset serialize. sqlite ignores the lock clause and
// serializes writers on its own.
func lockAsset(tx *gorm.DB, id string) (*domain.UploadedAsset, error) {
	var asset domain.UploadedAsset
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "asset", id)
	}
	return &asset, nil
}
