// Package ingest admits operator uploads, stores their bytes in the content
// store and records asset metadata in the job record store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/storage"
	"github.com/timmy/batchmigrate/internal/validator"
)

// DefaultSignedURLTTL applies when Options leaves the TTL unset.
const DefaultSignedURLTTL = 15 * time.Minute

// Upload is one raw file offered by an operator.
type Upload struct {
	OwnerID      string
	Data         []byte
	DeclaredName string
	DeclaredType string
	Metadata     map[string]string
}

// Handle is a time-limited download reference.
type Handle struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the slice of the job record store the pipeline writes to.
type Store interface {
	CreateAsset(ctx context.Context, asset *domain.UploadedAsset) error
	GetAsset(ctx context.Context, id string) (*domain.UploadedAsset, error)
	ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.UploadedAsset, error)
	DeleteAsset(ctx context.Context, id string) (*domain.UploadedAsset, error)
	RecordOrphan(ctx context.Context, orphan *domain.OrphanBlob) error
}

// Options configures a Pipeline.
type Options struct {
	Policy       Policy
	SignedURLTTL time.Duration
}

// Pipeline is the Ingestion Pipeline.
type Pipeline struct {
	store     Store
	blobs     storage.ObjectStorage
	admitter  *Admitter
	signedTTL time.Duration
	now       func() time.Time
	newID     func() string
}

// NewPipeline creates a Pipeline writing blobs to blobs and rows to store.
func NewPipeline(store Store, blobs storage.ObjectStorage, opts Options) *Pipeline {
	ttl := opts.SignedURLTTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &Pipeline{
		store:     store,
		blobs:     blobs,
		admitter:  NewAdmitter(opts.Policy),
		signedTTL: ttl,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Ingest admits u, writes its bytes and then its asset row.
// Admission failures return *domain.AdmissionError before anything is written.
// If the row write fails after the blob landed, the blob is recorded as an
// orphan for the reconciler and the row error is returned.
func (p *Pipeline) Ingest(ctx context.Context, u Upload) (*domain.UploadedAsset, error) {
	ctx = logger.SetOwnerID(logger.SetComponent(ctx, "ingest"), u.OwnerID)

	mediaType, err := p.admitter.Admit(u)
	if err != nil {
		logger.CtxWarn(ctx, "Upload rejected: name=%s, error=%v", u.DeclaredName, err)
		return nil, err
	}

	now := p.now().UTC()
	id := p.newID()
	asset := &domain.UploadedAsset{
		ID:                 id,
		OwnerID:            u.OwnerID,
		StoragePath:        StoragePath(u.OwnerID, u.DeclaredName, id, now),
		SizeBytes:          int64(len(u.Data)),
		Checksum:           Checksum(u.Data),
		DeclaredName:       u.DeclaredName,
		DeclaredType:       mediaType,
		UploadStatus:       domain.UploadStatusUploading,
		ProcessingStatus:   domain.ProcessingStatusPending,
		ComplianceStatus:   domain.ComplianceUnknown,
		SecurityScanStatus: domain.ScanPending,
		Metadata:           domain.StringMap(u.Metadata),
		UploadedAt:         now,
	}
	ctx = logger.SetAssetID(ctx, id)

	if err := p.blobs.Put(ctx, asset.StoragePath, u.Data, mediaType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	asset.UploadStatus = domain.UploadStatusCompleted

	if err := p.store.CreateAsset(ctx, asset); err != nil {
		orphan := &domain.OrphanBlob{
			StoragePath: asset.StoragePath,
			Reason:      err.Error(),
			CreatedAt:   now,
		}
		if oerr := p.store.RecordOrphan(ctx, orphan); oerr != nil {
			logger.CtxError(ctx, "Failed to record orphan blob: path=%s, error=%v", asset.StoragePath, oerr)
		}
		return nil, fmt.Errorf("failed to record asset: %w", err)
	}

	logger.With(logger.Fields{logger.FieldSize: asset.SizeBytes}).
		Info(ctx, "Asset ingested: path=%s", asset.StoragePath)
	return asset, nil
}

// GetAsset returns one asset.
func (p *Pipeline) GetAsset(ctx context.Context, id string) (*domain.UploadedAsset, error) {
	return p.store.GetAsset(ctx, id)
}

// ListAssets returns assets matching filter.
func (p *Pipeline) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.UploadedAsset, error) {
	return p.store.ListAssets(ctx, filter)
}

// DownloadHandle signs a time-limited reference to the asset's bytes.
func (p *Pipeline) DownloadHandle(ctx context.Context, assetID string) (Handle, error) {
	asset, err := p.store.GetAsset(ctx, assetID)
	if err != nil {
		return Handle{}, err
	}
	if signer, ok := p.blobs.(storage.ExpiringSigner); ok {
		url, expires, err := signer.SignedURLExpiry(ctx, asset.StoragePath, p.signedTTL)
		if err != nil {
			return Handle{}, err
		}
		return Handle{URL: url, ExpiresAt: expires}, nil
	}
	issued := p.now().UTC()
	url, err := p.blobs.SignedURL(ctx, asset.StoragePath, p.signedTTL)
	if err != nil {
		return Handle{}, err
	}
	return Handle{URL: url, ExpiresAt: issued.Add(p.signedTTL)}, nil
}

// Delete removes an asset's row and then its blob. An asset still referenced
// by a pending, running or paused job is not deleted. A blob that cannot be
// removed is left to the reconciler as an orphan.
func (p *Pipeline) Delete(ctx context.Context, assetID string) error {
	ctx = logger.SetAssetID(logger.SetComponent(ctx, "ingest"), assetID)

	asset, err := p.store.DeleteAsset(ctx, assetID)
	if err != nil {
		return err
	}

	if err := p.blobs.Delete(ctx, asset.StoragePath); err != nil {
		logger.CtxWarn(ctx, "Blob delete failed, leaving orphan: path=%s, error=%v", asset.StoragePath, err)
		orphan := &domain.OrphanBlob{
			StoragePath: asset.StoragePath,
			Reason:      err.Error(),
			CreatedAt:   p.now().UTC(),
		}
		if oerr := p.store.RecordOrphan(ctx, orphan); oerr != nil {
			logger.CtxError(ctx, "Failed to record orphan blob: path=%s, error=%v", asset.StoragePath, oerr)
		}
	}
	logger.CtxInfo(ctx, "Asset deleted: path=%s", asset.StoragePath)
	return nil
}

// LoadDataset reads and parses the asset's delimited text.
func (p *Pipeline) LoadDataset(ctx context.Context, assetID string) (validator.Dataset, error) {
	asset, err := p.store.GetAsset(ctx, assetID)
	if err != nil {
		return validator.Dataset{}, err
	}
	data, err := p.blobs.Get(ctx, asset.StoragePath)
	if err != nil {
		return validator.Dataset{}, err
	}
	return validator.ParseDelimited(data, Delimiter(asset.DeclaredType))
}

// Checksum is the content fingerprint stored on every asset.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
