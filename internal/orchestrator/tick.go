package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/validator"
)

// TickResult summarizes one tick.
type TickResult struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Committed int              `json:"committed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Processed int              `json:"processed"`
	Total     int              `json:"total"`
}

// Done reports whether the job left the running state.
func (r TickResult) Done() bool {
	return r.Status != domain.JobStatusRunning
}

// Tick commits up to BatchSize records of a running job, in row order,
// starting at ProcessedRecords. A row whose natural key already appeared
// earlier in the dataset is skipped, so the first occurrence is the one
// committed. Progress is persisted once at the end; if
// that write fails the tick's progress is discarded and the job stays
// running at its last persisted position.
func (o *Orchestrator) Tick(ctx context.Context, jobID string) (TickResult, error) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "orchestrator"), jobID)
	rt := o.runtime(jobID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.activity.Store(domain.ActivityTicking)
	defer rt.activity.Store(domain.ActivityIdle)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return TickResult{}, err
	}
	res := TickResult{JobID: jobID, Status: job.Status, Processed: job.ProcessedRecords, Total: job.TotalRecords}
	if job.Status != domain.JobStatusRunning || rt.pause.Load() {
		return res, nil
	}

	ds, schema, err := o.dataset(ctx, rt, job)
	if err != nil {
		return res, err
	}
	total := job.TotalRecords
	if len(ds.Rows) < total {
		return res, fmt.Errorf("dataset has %d rows but job expects %d", len(ds.Rows), total)
	}

	started := o.now()
	for n := 0; n < o.cfg.BatchSize && job.ProcessedRecords < total; n++ {
		if rt.pause.Load() || ctx.Err() != nil {
			break
		}
		if o.cfg.TickBudget > 0 && o.now().Sub(started) >= o.cfg.TickBudget {
			break
		}

		idx := job.ProcessedRecords
		rec := domain.Record{
			JobID:      job.ID,
			SchemaName: schema.Name,
			Row:        validator.RowNumber(idx),
			Key:        validator.NaturalKey(ds.Rows[idx], schema.Key),
			Fields:     domain.StringMap(ds.Rows[idx]),
		}

		if first, ok := rt.firstRow[rec.Key]; ok && first < idx {
			job.ProcessedRecords++
			job.SkippedRecords++
			res.Skipped++
			logger.With(logger.Fields{logger.FieldRow: rec.Row}).Info(ctx, "Record skipped: key=%s, first seen at row %d", rec.Key, validator.RowNumber(first))
			continue
		}

		err := o.commitRecord(ctx, rec)
		if err != nil && ctx.Err() != nil {
			// interrupted, not failed: the record is retried on the next tick
			break
		}
		job.ProcessedRecords++
		if err != nil {
			job.ErrorCount++
			job.ErrorDetails = job.ErrorDetails.Append(errorDetail(rec, err, o.now().UTC()), o.cfg.ErrorDetailsCap)
			res.Failed++
			logger.With(logger.Fields{logger.FieldRow: rec.Row}).Warn(ctx, "Record failed: key=%s, error=%v", rec.Key, err)
			continue
		}
		res.Committed++
	}

	if job.ProcessedRecords >= total {
		o.finish(job)
	}
	job.UpdatedAt = o.now().UTC()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CommitTimeout)
	defer cancel()
	if err := o.store.UpdateJob(persistCtx, job); err != nil {
		logger.CtxError(ctx, "Failed to persist tick progress: processed=%d, error=%v", job.ProcessedRecords, err)
		return TickResult{JobID: jobID, Status: domain.JobStatusRunning, Processed: res.Processed, Total: res.Total},
			fmt.Errorf("failed to persist job progress: %w", err)
	}

	o.progress.Record(jobID, job.ProcessedRecords, o.now())
	res.Status = job.Status
	res.Processed = job.ProcessedRecords

	logger.With(logger.Fields{
		logger.FieldCount:      res.Committed + res.Failed,
		logger.FieldDurationMs: o.now().Sub(started).Milliseconds(),
	}).Debug(ctx, "Tick finished: processed=%d/%d, failed=%d", job.ProcessedRecords, total, res.Failed)

	switch job.Status {
	case domain.JobStatusCompleted:
		rt.dataset = nil
		o.markAsset(ctx, job.AssetID, domain.ProcessingStatusProcessed)
		logger.CtxInfo(ctx, "Job completed: errors=%d", job.ErrorCount)
	case domain.JobStatusFailed:
		rt.dataset = nil
		o.markAsset(ctx, job.AssetID, domain.ProcessingStatusFailed)
		logger.CtxWarn(ctx, "Job failed: errors=%d/%d, threshold=%.4f", job.ErrorCount, job.TotalRecords, job.FailureThreshold)
	}
	return res, nil
}

// finish settles a job whose records are all processed.
func (o *Orchestrator) finish(job *domain.MigrationJob) {
	now := o.now().UTC()
	job.FinishedAt = &now
	if job.FailureThreshold > 0 && job.FailureRatio() >= job.FailureThreshold {
		job.Status = domain.JobStatusFailed
		return
	}
	job.Status = domain.JobStatusCompleted
}

// commitRecord transforms rec and commits it, retrying retryable failures
// with exponential backoff up to CommitAttempts in total.
func (o *Orchestrator) commitRecord(ctx context.Context, rec domain.Record) error {
	out, err := o.transformer.Transform(rec)
	if err != nil {
		return &domain.CommitError{Class: domain.CommitTerminal, Row: rec.Row, Key: rec.Key, Cause: err}
	}
	rec = out

	operation := func() error {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CommitTimeout)
		defer cancel()

		err := o.store.CommitRecord(cctx, rec)
		if err == nil {
			return nil
		}
		var ce *domain.CommitError
		if !errors.As(err, &ce) {
			err = &domain.CommitError{Class: domain.CommitRetryable, Row: rec.Row, Key: rec.Key, Cause: err}
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.BackoffInitial
	b.MaxInterval = o.cfg.BackoffMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.cfg.CommitAttempts-1)), ctx)

	return backoff.RetryNotify(operation, policy, func(err error, t time.Duration) {
		logger.With(logger.Fields{logger.FieldRow: rec.Row}).Debug(ctx, "Commit retry in %s: %v", t, err)
	})
}

func errorDetail(rec domain.Record, err error, at time.Time) domain.ErrorDetail {
	class := string(domain.CommitTerminal)
	var ce *domain.CommitError
	if errors.As(err, &ce) {
		class = string(ce.Class)
	}
	return domain.ErrorDetail{Row: rec.Row, Key: rec.Key, Class: class, Message: err.Error(), At: at}
}

// RunUntilSettled ticks the job until it leaves running or stops making
// progress, calling onTick after each tick. It is the synchronous driver
// used by the CLI.
func (o *Orchestrator) RunUntilSettled(ctx context.Context, jobID string, onTick func(TickResult)) (TickResult, error) {
	var last TickResult
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		res, err := o.Tick(ctx, jobID)
		if err != nil {
			return res, err
		}
		if onTick != nil {
			onTick(res)
		}
		if res.Done() || res.Committed+res.Failed == 0 {
			return res, nil
		}
		last = res
	}
}
