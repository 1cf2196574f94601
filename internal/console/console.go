// Package console is the operator-facing facade over ingestion, the
// orchestrator and telemetry. The HTTP API and the CLI both go through it.
package console

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/ingest"
	"github.com/timmy/batchmigrate/internal/orchestrator"
	"github.com/timmy/batchmigrate/internal/telemetry"
)

// JobOutcome reports a transition request and whether it changed anything.
type JobOutcome = orchestrator.JobOutcome

// SchemaLister names the schemas jobs can target.
type SchemaLister interface {
	Names() []string
}

// Console is the Console Facade.
type Console struct {
	pipeline  *ingest.Pipeline
	orch      *orchestrator.Orchestrator
	telemetry *telemetry.Reporter
	schemas   SchemaLister
}

// New creates a Console.
func New(pipeline *ingest.Pipeline, orch *orchestrator.Orchestrator, reporter *telemetry.Reporter, schemas SchemaLister) *Console {
	return &Console{pipeline: pipeline, orch: orch, telemetry: reporter, schemas: schemas}
}

// JobView is a job snapshot with its progress as a percentage.
type JobView struct {
	*domain.MigrationJob
	Progress float64 `json:"progress"`
}

// Overview counts jobs per status.
type Overview struct {
	Jobs     map[domain.JobStatus]int `json:"jobs"`
	Total    int                      `json:"total"`
	Assets   int                      `json:"assets"`
	Schemas  []string                 `json:"schemas"`
	Computed time.Time                `json:"computed_at"`
}

func view(job *domain.MigrationJob) JobView {
	v := JobView{MigrationJob: job}
	if job.TotalRecords > 0 {
		v.Progress = float64(job.ProcessedRecords) * 100 / float64(job.TotalRecords)
	} else if job.Status == domain.JobStatusCompleted {
		v.Progress = 100
	}
	return v
}

// ListJobs returns job snapshots matching filter.
func (c *Console) ListJobs(ctx context.Context, filter domain.JobFilter) ([]JobView, error) {
	jobs, err := c.orch.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return lo.Map(jobs, func(j domain.MigrationJob, _ int) JobView { return view(&j) }), nil
}

// GetJob returns one job snapshot.
func (c *Console) GetJob(ctx context.Context, jobID string) (JobView, error) {
	job, err := c.orch.Get(ctx, jobID)
	if err != nil {
		return JobView{}, err
	}
	return view(job), nil
}

// GetValidationReport returns the job's current validation result.
func (c *Console) GetValidationReport(ctx context.Context, jobID string) (*domain.ValidationResult, error) {
	job, err := c.orch.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return c.orch.Validation(ctx, job.ValidationID)
}

// ListAssets returns asset metadata matching filter.
func (c *Console) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.UploadedAsset, error) {
	return c.pipeline.ListAssets(ctx, filter)
}

// GetAsset returns one asset's metadata.
func (c *Console) GetAsset(ctx context.Context, assetID string) (*domain.UploadedAsset, error) {
	return c.pipeline.GetAsset(ctx, assetID)
}

// JobMetrics returns throughput, ETA and success rate for a job.
func (c *Console) JobMetrics(ctx context.Context, jobID string) (telemetry.JobMetrics, error) {
	return c.telemetry.JobMetrics(ctx, jobID)
}

// Resources returns the latest resource snapshot, sampling once if none
// has been taken yet.
func (c *Console) Resources(ctx context.Context) (telemetry.ResourceSnapshot, error) {
	if snap, ok := c.telemetry.Last(); ok {
		return snap, nil
	}
	return c.telemetry.Sample(ctx)
}

// DownloadHandle returns a time-limited link to an asset's bytes.
func (c *Console) DownloadHandle(ctx context.Context, assetID string) (ingest.Handle, error) {
	return c.pipeline.DownloadHandle(ctx, assetID)
}

// Schemas lists the schema names jobs can target.
func (c *Console) Schemas() []string {
	return c.schemas.Names()
}

// Overview summarizes jobs and assets.
func (c *Console) Overview(ctx context.Context) (Overview, error) {
	jobs, err := c.orch.List(ctx, domain.JobFilter{})
	if err != nil {
		return Overview{}, err
	}
	assets, err := c.pipeline.ListAssets(ctx, domain.AssetFilter{})
	if err != nil {
		return Overview{}, err
	}
	counts := lo.CountValuesBy(jobs, func(j domain.MigrationJob) domain.JobStatus { return j.Status })
	return Overview{
		Jobs:     counts,
		Total:    len(jobs),
		Assets:   len(assets),
		Schemas:  c.schemas.Names(),
		Computed: time.Now().UTC(),
	}, nil
}

// UploadAsset admits and stores an upload.
func (c *Console) UploadAsset(ctx context.Context, u ingest.Upload) (*domain.UploadedAsset, error) {
	return c.pipeline.Ingest(ctx, u)
}

// CreateJob validates an asset against a schema and records a pending job.
func (c *Console) CreateJob(ctx context.Context, spec orchestrator.JobSpec) (JobView, error) {
	job, err := c.orch.CreateJob(ctx, spec)
	if err != nil {
		return JobView{}, err
	}
	return view(job), nil
}

// StartJob starts or resumes a job.
func (c *Console) StartJob(ctx context.Context, jobID string, acknowledgeWarnings bool) (JobOutcome, error) {
	return c.orch.Start(ctx, jobID, orchestrator.StartOptions{AcknowledgeWarnings: acknowledgeWarnings})
}

// PauseJob pauses a running job at the next record boundary.
func (c *Console) PauseJob(ctx context.Context, jobID string) (JobOutcome, error) {
	return c.orch.Pause(ctx, jobID)
}

// RetryJob starts a new attempt of a failed job.
func (c *Console) RetryJob(ctx context.Context, jobID string) (JobOutcome, error) {
	return c.orch.Retry(ctx, jobID)
}

// RevalidateJob re-runs validation for a pending or paused job.
func (c *Console) RevalidateJob(ctx context.Context, jobID string) (*domain.ValidationResult, error) {
	return c.orch.Revalidate(ctx, jobID)
}

// DeleteAsset removes an asset no unfinished job references.
func (c *Console) DeleteAsset(ctx context.Context, assetID string) error {
	return c.pipeline.Delete(ctx, assetID)
}

// RunJob ticks a running job until it settles. Used when no scheduler is running.
func (c *Console) RunJob(ctx context.Context, jobID string, onTick func(orchestrator.TickResult)) (orchestrator.TickResult, error) {
	return c.orch.RunUntilSettled(ctx, jobID, onTick)
}
