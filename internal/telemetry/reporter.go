// Package telemetry reports host resource usage and per-job throughput.
// It only reads job state.
package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/logger"
)

// ResourceSnapshot is a clamped, optionally smoothed resource sample.
// Percentages are within [0,100].
type ResourceSnapshot struct {
	CPU            float64       `json:"cpu"`
	Memory         float64       `json:"memory"`
	Disk           float64       `json:"disk"`
	NetworkLatency time.Duration `json:"network_latency_ns"`
	SampledAt      time.Time     `json:"sampled_at"`
}

// JobMetrics describes how a job is moving. Throughput is only reported for
// running jobs with recent progress; ETASeconds is nil while it is unknown or
// zero. SuccessRate is nil before any record is processed.
type JobMetrics struct {
	JobID               string             `json:"job_id"`
	Status              domain.JobStatus   `json:"status"`
	ThroughputPerSecond float64            `json:"throughput_per_second"`
	ETASeconds          *float64           `json:"eta_seconds"`
	SuccessRate         *float64           `json:"success_rate"`
	Activity            domain.JobActivity `json:"activity"`
}

// JobSource yields job snapshots and scheduler activity.
type JobSource interface {
	Get(ctx context.Context, jobID string) (*domain.MigrationJob, error)
	Activity(jobID string) domain.JobActivity
}

// ReporterConfig bounds and smooths samples.
type ReporterConfig struct {
	// MaxLatency caps NetworkLatency. Zero leaves it uncapped.
	MaxLatency time.Duration
	// Smoothing is the weight kept from the previous snapshot, in [0,1).
	// Zero disables smoothing.
	Smoothing float64
}

// Reporter samples a Source and derives job metrics from a Progress book.
type Reporter struct {
	source   Source
	jobs     JobSource
	progress *Progress
	cfg      ReporterConfig

	mu   sync.Mutex
	last *ResourceSnapshot

	now func() time.Time
}

// NewReporter creates a Reporter.
func NewReporter(source Source, jobs JobSource, progress *Progress, cfg ReporterConfig) *Reporter {
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = 0
	}
	return &Reporter{source: source, jobs: jobs, progress: progress, cfg: cfg, now: time.Now}
}

// Sample reads the source and returns a clamped snapshot.
func (r *Reporter) Sample(ctx context.Context) (ResourceSnapshot, error) {
	reading, err := r.source.Read(ctx)
	if err != nil {
		return ResourceSnapshot{}, err
	}
	snap := ResourceSnapshot{
		CPU:            clampPercent(reading.CPU),
		Memory:         clampPercent(reading.Memory),
		Disk:           clampPercent(reading.Disk),
		NetworkLatency: r.clampLatency(reading.NetworkLatency),
		SampledAt:      r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.last; prev != nil && r.cfg.Smoothing > 0 {
		a := r.cfg.Smoothing
		snap.CPU = a*prev.CPU + (1-a)*snap.CPU
		snap.Memory = a*prev.Memory + (1-a)*snap.Memory
		snap.Disk = a*prev.Disk + (1-a)*snap.Disk
		snap.NetworkLatency = time.Duration(a*float64(prev.NetworkLatency) + (1-a)*float64(snap.NetworkLatency))
	}
	r.last = &snap
	return snap, nil
}

// Last returns the most recent snapshot, if any.
func (r *Reporter) Last() (ResourceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return ResourceSnapshot{}, false
	}
	return *r.last, true
}

// JobMetrics computes throughput, ETA and success rate for a job.
func (r *Reporter) JobMetrics(ctx context.Context, jobID string) (JobMetrics, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return JobMetrics{}, err
	}
	m := JobMetrics{JobID: job.ID, Status: job.Status, Activity: domain.ActivityIdle}
	if job.Status == domain.JobStatusRunning {
		m.Activity = r.jobs.Activity(jobID)
		if rate, ok := r.progress.RateAt(jobID, r.now()); ok && rate > 0 {
			m.ThroughputPerSecond = rate
			eta := float64(job.Remaining()) / rate
			m.ETASeconds = &eta
		}
	}
	if job.Status.IsTerminal() {
		zero := 0.0
		m.ETASeconds = &zero
	}
	if job.ProcessedRecords > 0 {
		success := float64(job.ProcessedRecords-job.ErrorCount) / float64(job.ProcessedRecords)
		m.SuccessRate = &success
	}
	return m, nil
}

// Watch samples every cadence until ctx is done and then closes the channel.
// Failed samples are logged and skipped.
func (r *Reporter) Watch(ctx context.Context, cadence time.Duration) <-chan ResourceSnapshot {
	if cadence <= 0 {
		cadence = 5 * time.Second
	}
	out := make(chan ResourceSnapshot, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := r.Sample(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.CtxWarn(ctx, "Resource sample failed: %v", err)
				}
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 100)
}

func (r *Reporter) clampLatency(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if r.cfg.MaxLatency > 0 && d > r.cfg.MaxLatency {
		return r.cfg.MaxLatency
	}
	return d
}
