package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/source"
)

// ChecksumLookup finds content an owner already uploaded.
type ChecksumLookup interface {
	AssetExistsByChecksum(ctx context.Context, owner, checksum string) (bool, error)
}

// Importer feeds every item of a Source through the pipeline.
type Importer struct {
	pipeline  *Pipeline
	lookup    ChecksumLookup
	workers   int
	batchSize int
}

// ImportOptions holds options for one import run.
type ImportOptions struct {
	Owner string // used for items that name no owner
	Limit int    // maximum items to take from the source, zero for all
	Force bool   // upload even when the owner already has identical content
}

// ImportStats holds statistics for an import run.
type ImportStats struct {
	TotalItems    int64            `json:"total_items"`
	Imported      int64            `json:"imported"`
	SkippedItems  int64            `json:"skipped_items"`
	RejectedItems int64            `json:"rejected_items"`
	FailedItems   int64            `json:"failed_items"`
	Rejections    map[string]int   `json:"rejections,omitempty"` // admission reason -> count
	AssetIDs      []string         `json:"asset_ids,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	Failures      map[string]error `json:"-"` // source id -> error
}

// NewImporter creates an Importer. A nil lookup disables duplicate skipping.
func NewImporter(p *Pipeline, lookup ChecksumLookup, workers, batchSize int) *Importer {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Importer{pipeline: p, lookup: lookup, workers: workers, batchSize: batchSize}
}

type importResult struct {
	sourceID string
	assetID  string
	skipped  bool
	err      error
}

// errSkipDuplicate marks an item whose content the owner already uploaded.
var errSkipDuplicate = errors.New("skipped: duplicate content")

// ImportFromSource uploads every item src offers, in source order, using a
// fixed pool of workers. Admission rejections are counted per reason and do
// not stop the run; a failing source does.
func (im *Importer) ImportFromSource(ctx context.Context, src source.Source, opts ImportOptions) (*ImportStats, error) {
	ctx = logger.SetComponent(ctx, "import")
	stats := &ImportStats{StartTime: time.Now(), Failures: map[string]error{}}

	logger.With(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  opts.Limit,
		"force":  opts.Force,
	}).Info(ctx, "Starting import")

	itemsChan := make(chan source.Item, im.workers*2)
	resultsChan := make(chan importResult, im.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < im.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			im.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	var rejections []domain.AdmissionReason
	done := make(chan struct{})
	go func() {
		for res := range resultsChan {
			var adm *domain.AdmissionError
			switch {
			case res.skipped:
				atomic.AddInt64(&stats.SkippedItems, 1)
			case errors.As(res.err, &adm):
				atomic.AddInt64(&stats.RejectedItems, 1)
				rejections = append(rejections, adm.Reason)
				logger.CtxWarn(ctx, "Item rejected: source_id=%s, reason=%s", res.sourceID, adm.Reason)
			case res.err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				stats.Failures[res.sourceID] = res.err
				logger.CtxError(ctx, "Failed to import item: source_id=%s, error=%v", res.sourceID, res.err)
			default:
				atomic.AddInt64(&stats.Imported, 1)
				stats.AssetIDs = append(stats.AssetIDs, res.assetID)
			}
		}
		close(done)
	}()

	fetchErr := im.feed(ctx, src, opts.Limit, itemsChan, &stats.TotalItems)

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	if len(rejections) > 0 {
		stats.Rejections = lo.MapKeys(lo.CountValues(rejections), func(_ int, r domain.AdmissionReason) string {
			return string(r)
		})
	}

	logger.With(logger.Fields{
		"total":    stats.TotalItems,
		"imported": stats.Imported,
		"skipped":  stats.SkippedItems,
		"rejected": stats.RejectedItems,
		"failed":   stats.FailedItems,
		"duration": stats.EndTime.Sub(stats.StartTime).String(),
	}).Info(ctx, "Import completed")

	if fetchErr != nil {
		return stats, fmt.Errorf("failed to fetch from %s: %w", src.GetSourceID(), fetchErr)
	}
	return stats, ctx.Err()
}

// feed pages through src into items until it is exhausted, the limit is
// reached or ctx is cancelled.
func (im *Importer) feed(ctx context.Context, src source.Source, limit int, items chan<- source.Item, total *int64) error {
	cursor := ""
	fetched := 0
	for ctx.Err() == nil {
		batchLimit := im.batchSize
		if limit > 0 {
			remaining := limit - fetched
			if remaining <= 0 {
				return nil
			}
			batchLimit = min(batchLimit, remaining)
		}

		batch, next, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		atomic.AddInt64(total, int64(len(batch)))
		fetched += len(batch)

		for _, item := range batch {
			select {
			case items <- item:
			case <-ctx.Done():
				return nil
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
	return nil
}

func (im *Importer) worker(ctx context.Context, items <-chan source.Item, results chan<- importResult, opts ImportOptions) {
	for item := range items {
		if ctx.Err() != nil {
			return
		}
		res := importResult{sourceID: item.SourceID}
		asset, err := im.importItem(ctx, item, opts)
		switch {
		case errors.Is(err, errSkipDuplicate):
			res.skipped = true
		case err != nil:
			res.err = err
		default:
			res.assetID = asset.ID
		}
		results <- res
	}
}

func (im *Importer) importItem(ctx context.Context, item source.Item, opts ImportOptions) (*domain.UploadedAsset, error) {
	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", item.LocalPath, err)
	}

	owner := item.OwnerID
	if owner == "" {
		owner = opts.Owner
	}
	if !opts.Force && im.lookup != nil && owner != "" {
		exists, err := im.lookup.AssetExistsByChecksum(ctx, owner, Checksum(data))
		if err != nil {
			return nil, fmt.Errorf("failed to check for duplicate: %w", err)
		}
		if exists {
			return nil, errSkipDuplicate
		}
	}

	meta := make(map[string]string, len(item.Metadata)+1)
	for k, v := range item.Metadata {
		meta[k] = v
	}
	meta["import_id"] = item.SourceID

	return im.pipeline.Ingest(ctx, Upload{
		OwnerID:      owner,
		Data:         data,
		DeclaredName: item.Name,
		DeclaredType: item.ContentType,
		Metadata:     meta,
	})
}
