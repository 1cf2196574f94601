// Package orchestrator owns migration jobs: their state machine, the
// tick-driven commit loop and the scheduler that drives running jobs.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/telemetry"
	"github.com/timmy/batchmigrate/internal/validator"
)

// Store is the job record store as seen by the orchestrator.
type Store interface {
	CreateJob(ctx context.Context, job *domain.MigrationJob) error
	GetJob(ctx context.Context, id string) (*domain.MigrationJob, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.MigrationJob, error)
	UpdateJob(ctx context.Context, job *domain.MigrationJob) error
	RunningJobIDs(ctx context.Context) ([]string, error)

	SaveValidation(ctx context.Context, result *domain.ValidationResult) error
	GetValidation(ctx context.Context, id string) (*domain.ValidationResult, error)

	GetAsset(ctx context.Context, id string) (*domain.UploadedAsset, error)
	UpdateAsset(ctx context.Context, asset *domain.UploadedAsset) error

	CommitRecord(ctx context.Context, rec domain.Record) error
	ExistingKeys(ctx context.Context, schema string, keys []string, excludeJobID string) (map[string]bool, error)
}

// DatasetLoader reads the dataset behind an asset.
type DatasetLoader interface {
	LoadDataset(ctx context.Context, assetID string) (validator.Dataset, error)
}

// Schemas resolves schema names.
type Schemas interface {
	Get(name string) (validator.Schema, bool)
}

// Config tunes ticks and commits.
type Config struct {
	BatchSize         int
	TickBudget        time.Duration
	CommitTimeout     time.Duration
	CommitAttempts    int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	FailureThreshold  float64 // default for jobs created without one
	RequireWarningAck bool
	ErrorDetailsCap   int
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 5 * time.Second
	}
	if c.CommitAttempts <= 0 {
		c.CommitAttempts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.ErrorDetailsCap <= 0 {
		c.ErrorDetailsCap = domain.DefaultErrorDetailsCap
	}
}

// JobSpec describes a job to create.
type JobSpec struct {
	Name       string
	AssetID    string
	SchemaName string
	// FailureThreshold overrides Config.FailureThreshold when set.
	FailureThreshold *float64
}

// StartOptions qualifies a start request.
type StartOptions struct {
	AcknowledgeWarnings bool
}

// JobOutcome is the result of a state transition request. Changed is false
// when the job was already in the requested state.
type JobOutcome struct {
	Job     *domain.MigrationJob `json:"job"`
	Changed bool                 `json:"changed"`
}

// runtime is the in-process state of one job.
type runtime struct {
	// mu is held for a whole tick and for every transition.
	mu         sync.Mutex
	pause      atomic.Bool
	dispatched atomic.Bool
	activity   atomic.Value // domain.JobActivity

	// guarded by mu
	dataset  *validator.Dataset
	schema   validator.Schema
	firstRow map[string]int // natural key -> index of its first row
}

// Orchestrator is the single writer of job state.
type Orchestrator struct {
	store       Store
	loader      DatasetLoader
	schemas     Schemas
	transformer Transformer
	progress    *telemetry.Progress
	cfg         Config

	mu       sync.Mutex
	runtimes map[string]*runtime

	now   func() time.Time
	newID func() string
}

// New creates an Orchestrator. A nil transformer defaults to TrimSpace and a
// nil progress book disables throughput tracking.
func New(store Store, loader DatasetLoader, schemas Schemas, transformer Transformer, progress *telemetry.Progress, cfg Config) *Orchestrator {
	cfg.setDefaults()
	if transformer == nil {
		transformer = TrimSpace
	}
	if progress == nil {
		progress = telemetry.NewProgress(0, 0)
	}
	return &Orchestrator{
		store:       store,
		loader:      loader,
		schemas:     schemas,
		transformer: transformer,
		progress:    progress,
		cfg:         cfg,
		runtimes:    make(map[string]*runtime),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

func (o *Orchestrator) runtime(jobID string) *runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[jobID]
	if !ok {
		rt = &runtime{}
		rt.activity.Store(domain.ActivityIdle)
		o.runtimes[jobID] = rt
	}
	return rt
}

// Activity reports what the scheduler is doing with the job.
func (o *Orchestrator) Activity(jobID string) domain.JobActivity {
	o.mu.Lock()
	rt, ok := o.runtimes[jobID]
	o.mu.Unlock()
	if !ok {
		return domain.ActivityIdle
	}
	return rt.activity.Load().(domain.JobActivity)
}

// Get returns a snapshot of the job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*domain.MigrationJob, error) {
	return o.store.GetJob(ctx, jobID)
}

// List returns job snapshots matching filter.
func (o *Orchestrator) List(ctx context.Context, filter domain.JobFilter) ([]domain.MigrationJob, error) {
	return o.store.ListJobs(ctx, filter)
}

// Validation returns a stored validation result.
func (o *Orchestrator) Validation(ctx context.Context, id string) (*domain.ValidationResult, error) {
	return o.store.GetValidation(ctx, id)
}

// CreateJob validates the asset's dataset against the schema and records a
// pending job. An invalid dataset still yields a job; it cannot start.
func (o *Orchestrator) CreateJob(ctx context.Context, spec JobSpec) (*domain.MigrationJob, error) {
	threshold := o.cfg.FailureThreshold
	if spec.FailureThreshold != nil {
		threshold = *spec.FailureThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, &domain.InvalidInputError{Field: "failure_threshold", Reason: "must be within [0,1]"}
	}
	if spec.AssetID == "" {
		return nil, &domain.InvalidInputError{Field: "asset_id", Reason: "required"}
	}
	schema, ok := o.schemas.Get(spec.SchemaName)
	if !ok {
		return nil, &domain.InvalidInputError{Field: "schema", Reason: fmt.Sprintf("unknown schema %q", spec.SchemaName)}
	}
	if _, err := o.store.GetAsset(ctx, spec.AssetID); err != nil {
		return nil, err
	}

	job := &domain.MigrationJob{
		ID:               o.newID(),
		Name:             spec.Name,
		AssetID:          spec.AssetID,
		SchemaName:       schema.Name,
		Status:           domain.JobStatusPending,
		Attempt:          1,
		FailureThreshold: threshold,
		ErrorDetails:     domain.ErrorDetails{},
	}
	if job.Name == "" {
		job.Name = schema.Name + " migration"
	}
	ctx = logger.SetJobID(logger.SetComponent(ctx, "orchestrator"), job.ID)

	rt := o.runtime(job.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	result, err := o.validate(ctx, rt, job, job.Attempt)
	if err != nil {
		return nil, err
	}
	job.ValidationID = result.ID
	job.TotalRecords = result.RecordCount
	now := o.now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	logger.With(logger.Fields{logger.FieldCount: job.TotalRecords, logger.FieldSchema: job.SchemaName}).
		Info(ctx, "Job created: valid=%t, errors=%d, warnings=%d", result.IsValid, len(result.Errors), len(result.Warnings))
	return job.Clone(), nil
}

// Revalidate re-runs validation for a pending or paused job and makes the
// new result current. Warning acknowledgement is cleared.
func (o *Orchestrator) Revalidate(ctx context.Context, jobID string) (*domain.ValidationResult, error) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "orchestrator"), jobID)
	rt := o.runtime(jobID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusPaused {
		return nil, &domain.ConflictError{Op: "revalidate", Entity: "job", ID: jobID, Reason: "job is " + string(job.Status)}
	}

	rt.dataset = nil
	result, err := o.validate(ctx, rt, job, job.Attempt)
	if err != nil {
		return nil, err
	}
	job.ValidationID = result.ID
	job.WarningsAcknowledged = false
	if job.Status == domain.JobStatusPending {
		job.TotalRecords = result.RecordCount
	}
	job.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return result, nil
}

// Start moves a pending or paused job to running once its current
// validation passes.
func (o *Orchestrator) Start(ctx context.Context, jobID string, opts StartOptions) (JobOutcome, error) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "orchestrator"), jobID)
	rt := o.runtime(jobID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return JobOutcome{}, err
	}

	switch job.Status {
	case domain.JobStatusRunning:
		return JobOutcome{Job: job, Changed: false}, nil
	case domain.JobStatusPending, domain.JobStatusPaused:
	default:
		return JobOutcome{}, &domain.ConflictError{Op: "start", Entity: "job", ID: jobID, Reason: "job is " + string(job.Status)}
	}

	result, err := o.store.GetValidation(ctx, job.ValidationID)
	if err != nil {
		return JobOutcome{}, err
	}
	if err := o.checkValidation(job, result, opts.AcknowledgeWarnings); err != nil {
		return JobOutcome{}, err
	}

	prev := job.Status
	now := o.now().UTC()
	job.Status = domain.JobStatusRunning
	job.WarningsAcknowledged = job.WarningsAcknowledged || opts.AcknowledgeWarnings
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return JobOutcome{}, fmt.Errorf("failed to start job: %w", err)
	}
	rt.pause.Store(false)

	o.markAsset(ctx, job.AssetID, domain.ProcessingStatusProcessing)
	logger.CtxInfo(ctx, "Job started: from=%s", prev)
	return JobOutcome{Job: job, Changed: true}, nil
}

// Pause asks a running job to stop before its next record, waits for any
// in-flight tick and moves the job to paused.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) (JobOutcome, error) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "orchestrator"), jobID)
	rt := o.runtime(jobID)
	rt.pause.Store(true)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		rt.pause.Store(false)
		return JobOutcome{}, err
	}

	switch job.Status {
	case domain.JobStatusPaused:
		return JobOutcome{Job: job, Changed: false}, nil
	case domain.JobStatusRunning:
	default:
		rt.pause.Store(false)
		return JobOutcome{}, &domain.ConflictError{Op: "pause", Entity: "job", ID: jobID, Reason: "job is " + string(job.Status)}
	}

	job.Status = domain.JobStatusPaused
	job.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		rt.pause.Store(false)
		return JobOutcome{}, fmt.Errorf("failed to pause job: %w", err)
	}
	o.progress.Reset(jobID)
	logger.CtxInfo(ctx, "Job paused: processed=%d/%d", job.ProcessedRecords, job.TotalRecords)
	return JobOutcome{Job: job, Changed: true}, nil
}

// Retry re-validates a failed job's dataset as a new attempt and, if it
// passes, clears progress and errors and moves the job to running.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (JobOutcome, error) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "orchestrator"), jobID)
	rt := o.runtime(jobID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return JobOutcome{}, err
	}
	if job.Status != domain.JobStatusFailed {
		return JobOutcome{}, &domain.ConflictError{Op: "retry", Entity: "job", ID: jobID, Reason: "job is " + string(job.Status)}
	}

	rt.dataset = nil
	result, err := o.validate(ctx, rt, job, job.Attempt+1)
	if err != nil {
		return JobOutcome{}, err
	}
	if err := o.checkValidation(job, result, false); err != nil {
		return JobOutcome{}, err
	}

	now := o.now().UTC()
	job.Attempt++
	job.ValidationID = result.ID
	job.TotalRecords = result.RecordCount
	job.ProcessedRecords = 0
	job.ErrorCount = 0
	job.SkippedRecords = 0
	job.ErrorDetails = domain.ErrorDetails{}
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	job.FinishedAt = nil
	job.UpdatedAt = now
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return JobOutcome{}, fmt.Errorf("failed to retry job: %w", err)
	}
	rt.pause.Store(false)
	o.progress.Reset(jobID)

	o.markAsset(ctx, job.AssetID, domain.ProcessingStatusProcessing)
	logger.CtxInfo(ctx, "Job retried: attempt=%d", job.Attempt)
	return JobOutcome{Job: job, Changed: true}, nil
}

func (o *Orchestrator) checkValidation(job *domain.MigrationJob, result *domain.ValidationResult, ack bool) error {
	if !result.IsValid {
		return &domain.ValidationError{
			JobID:        job.ID,
			ValidationID: result.ID,
			Errors:       len(result.Errors),
			Warnings:     len(result.Warnings),
			Reason:       "dataset has validation errors",
		}
	}
	if o.cfg.RequireWarningAck && result.HasWarnings() && !ack && !job.WarningsAcknowledged {
		return &domain.ValidationError{
			JobID:        job.ID,
			ValidationID: result.ID,
			Warnings:     len(result.Warnings),
			Reason:       "warnings must be acknowledged",
		}
	}
	return nil
}

// validate loads the dataset, checks it and stores the result. Keys already
// committed by this job do not count as duplicates.
func (o *Orchestrator) validate(ctx context.Context, rt *runtime, job *domain.MigrationJob, attempt int) (*domain.ValidationResult, error) {
	ds, schema, err := o.dataset(ctx, rt, job)
	if err != nil {
		return nil, err
	}

	existing, err := o.store.ExistingKeys(ctx, schema.Name, validator.Keys(ds, schema), job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing keys: %w", err)
	}
	res := validator.Validate(ds, schema, validator.Options{
		Now:    o.now(),
		Exists: func(key string) bool { return existing[key] },
	})
	res.ID = o.newID()
	res.JobID = job.ID
	res.Attempt = attempt
	res.CreatedAt = o.now().UTC()

	if err := o.store.SaveValidation(ctx, &res); err != nil {
		return nil, fmt.Errorf("failed to save validation: %w", err)
	}
	return &res, nil
}

// dataset returns the job's parsed dataset, loading it once per runtime.
func (o *Orchestrator) dataset(ctx context.Context, rt *runtime, job *domain.MigrationJob) (validator.Dataset, validator.Schema, error) {
	if rt.dataset != nil && rt.schema.Name == job.SchemaName {
		return *rt.dataset, rt.schema, nil
	}
	schema, ok := o.schemas.Get(job.SchemaName)
	if !ok {
		return validator.Dataset{}, validator.Schema{}, &domain.InvalidInputError{Field: "schema", Reason: fmt.Sprintf("unknown schema %q", job.SchemaName)}
	}
	ds, err := o.loader.LoadDataset(ctx, job.AssetID)
	if err != nil {
		return validator.Dataset{}, validator.Schema{}, err
	}
	rt.dataset, rt.schema = &ds, schema
	rt.firstRow = make(map[string]int, len(ds.Rows))
	for i, row := range ds.Rows {
		key := validator.NaturalKey(row, schema.Key)
		if _, seen := rt.firstRow[key]; key != "" && !seen {
			rt.firstRow[key] = i
		}
	}
	return ds, schema, nil
}

// markAsset moves the asset's processing status when the transition is allowed.
func (o *Orchestrator) markAsset(ctx context.Context, assetID string, next domain.ProcessingStatus) {
	asset, err := o.store.GetAsset(ctx, assetID)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to load asset for status update: asset=%s, error=%v", assetID, err)
		return
	}
	if asset.ProcessingStatus == next || !asset.ProcessingStatus.CanTransitionTo(next) {
		return
	}
	asset.ProcessingStatus = next
	if next == domain.ProcessingStatusProcessed || next == domain.ProcessingStatusFailed {
		now := o.now().UTC()
		asset.ProcessedAt = &now
	}
	if err := o.store.UpdateAsset(ctx, asset); err != nil {
		logger.CtxWarn(ctx, "Failed to update asset status: asset=%s, status=%s, error=%v", assetID, next, err)
	}
}
