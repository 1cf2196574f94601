package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/storage"
)

// OrphanStore is what the reconciler needs from the job record store.
type OrphanStore interface {
	ListOrphans(ctx context.Context, maxAttempts, limit int) ([]domain.OrphanBlob, error)
	ResolveOrphan(ctx context.Context, id uint, at time.Time) error
	TouchOrphan(ctx context.Context, id uint) error
	AssetExistsByPath(ctx context.Context, path string) (bool, error)
}

// ReconcilerConfig bounds one sweep.
type ReconcilerConfig struct {
	MaxAttempts int // orphans with this many failed sweeps are left alone
	BatchSize   int
	Retries     uint64 // delete retries within one sweep
}

// SweepStats counts what one sweep did.
type SweepStats struct {
	Deleted int `json:"deleted"`
	Claimed int `json:"claimed"`
	Failed  int `json:"failed"`
}

// Reconciler removes blobs whose asset row never landed.
type Reconciler struct {
	store   OrphanStore
	blobs   storage.ObjectStorage
	cfg     ReconcilerConfig
	backoff func() backoff.BackOff
	now     func() time.Time
}

// NewReconciler creates a Reconciler. Zero config values get defaults.
func NewReconciler(store OrphanStore, blobs storage.ObjectStorage, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	return &Reconciler{
		store: store,
		blobs: blobs,
		cfg:   cfg,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		now: time.Now,
	}
}

// Sweep handles every unresolved orphan once. An orphan whose path is now
// claimed by an asset row is resolved without deleting the blob.
func (r *Reconciler) Sweep(ctx context.Context) (SweepStats, error) {
	ctx = logger.SetComponent(ctx, "reconciler")
	var stats SweepStats

	orphans, err := r.store.ListOrphans(ctx, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, o := range orphans {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		claimed := false
		operation := func() error {
			exists, err := r.store.AssetExistsByPath(ctx, o.StoragePath)
			if err != nil {
				return err
			}
			if exists {
				claimed = true
				return nil
			}
			return r.blobs.Delete(ctx, o.StoragePath)
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(r.backoff(), r.cfg.Retries), ctx)
		err := backoff.RetryNotify(operation, policy, func(err error, t time.Duration) {
			logger.CtxWarn(ctx, "Orphan cleanup failed, retrying in %s: path=%s, error=%v", t, o.StoragePath, err)
		})
		if err != nil {
			stats.Failed++
			if terr := r.store.TouchOrphan(ctx, o.ID); terr != nil {
				logger.CtxError(ctx, "Failed to count orphan attempt: id=%d, error=%v", o.ID, terr)
			}
			continue
		}

		if err := r.store.ResolveOrphan(ctx, o.ID, r.now().UTC()); err != nil {
			return stats, err
		}
		if claimed {
			stats.Claimed++
		} else {
			stats.Deleted++
		}
	}

	if len(orphans) > 0 {
		logger.With(logger.Fields{logger.FieldCount: len(orphans)}).
			Info(ctx, "Orphan sweep finished: deleted=%d, claimed=%d, failed=%d", stats.Deleted, stats.Claimed, stats.Failed)
	}
	return stats, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.CtxError(ctx, "Orphan sweep failed: %v", err)
			}
		}
	}
}
