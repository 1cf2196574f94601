package telemetry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/batchmigrate/internal/domain"
)

type fakeJobs struct {
	jobs     map[string]*domain.MigrationJob
	activity domain.JobActivity
}

func (f *fakeJobs) Get(_ context.Context, id string) (*domain.MigrationJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "job", ID: id}
	}
	return j.Clone(), nil
}

func (f *fakeJobs) Activity(string) domain.JobActivity { return f.activity }

func TestWindowRate(t *testing.T) {
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	w := NewWindow(3, time.Minute)

	_, ok := w.Rate()
	assert.False(t, ok)

	w.Add(ProgressSample{Processed: 0, At: base})
	_, ok = w.Rate()
	assert.False(t, ok, "one sample has no rate")

	w.Add(ProgressSample{Processed: 10, At: base.Add(time.Second)})
	w.Add(ProgressSample{Processed: 30, At: base.Add(2 * time.Second)})
	rate, ok := w.Rate()
	require.True(t, ok)
	assert.InDelta(t, 15, rate, 1e-9)

	// the oldest sample falls out once the window is full
	w.Add(ProgressSample{Processed: 60, At: base.Add(3 * time.Second)})
	assert.Len(t, w.Samples(), 3)
	rate, _ = w.Rate()
	assert.InDelta(t, 25, rate, 1e-9)
}

func TestWindowPrunesBySpanAndResets(t *testing.T) {
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	w := NewWindow(10, 5*time.Second)
	w.Add(ProgressSample{Processed: 0, At: base})
	w.Add(ProgressSample{Processed: 5, At: base.Add(time.Second)})
	w.Add(ProgressSample{Processed: 50, At: base.Add(10 * time.Second)})
	assert.Len(t, w.Samples(), 1)

	w.Add(ProgressSample{Processed: 60, At: base.Add(11 * time.Second)})
	w.Add(ProgressSample{Processed: 2, At: base.Add(12 * time.Second)})
	samples := w.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 2, samples[0].Processed)
}

func TestReporterSampleClamps(t *testing.T) {
	src := NewStaticSource(Reading{CPU: 140, Memory: -3, Disk: math.NaN(), NetworkLatency: 30 * time.Second})
	r := NewReporter(src, &fakeJobs{}, NewProgress(0, 0), ReporterConfig{MaxLatency: 10 * time.Second})

	snap, err := r.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.CPU)
	assert.Equal(t, 0.0, snap.Memory)
	assert.Equal(t, 0.0, snap.Disk)
	assert.Equal(t, 10*time.Second, snap.NetworkLatency)
	assert.False(t, snap.SampledAt.IsZero())

	src.Set(Reading{}, errors.New("sampler down"))
	_, err = r.Sample(context.Background())
	assert.Error(t, err)
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 100.0, last.CPU)
}

func TestReporterSmoothing(t *testing.T) {
	src := NewStaticSource(Reading{CPU: 100, NetworkLatency: 100 * time.Millisecond})
	r := NewReporter(src, &fakeJobs{}, NewProgress(0, 0), ReporterConfig{Smoothing: 0.5})

	first, err := r.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, first.CPU)

	src.Set(Reading{CPU: 0, NetworkLatency: 0}, nil)
	second, err := r.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50, second.CPU, 1e-9)
	assert.Equal(t, 50*time.Millisecond, second.NetworkLatency)
}

func TestJobMetrics(t *testing.T) {
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{
		activity: domain.ActivityTicking,
		jobs: map[string]*domain.MigrationJob{
			"run":  {ID: "run", Status: domain.JobStatusRunning, TotalRecords: 100, ProcessedRecords: 40, ErrorCount: 4},
			"new":  {ID: "new", Status: domain.JobStatusPending, TotalRecords: 10},
			"done": {ID: "done", Status: domain.JobStatusCompleted, TotalRecords: 10, ProcessedRecords: 10},
			"held": {ID: "held", Status: domain.JobStatusPaused, TotalRecords: 100, ProcessedRecords: 40},
		},
	}
	progress := NewProgress(10, time.Minute)
	for _, id := range []string{"run", "held"} {
		progress.Record(id, 20, base)
		progress.Record(id, 40, base.Add(10*time.Second))
	}
	r := NewReporter(NewStaticSource(Reading{}), jobs, progress, ReporterConfig{})
	r.now = func() time.Time { return base.Add(11 * time.Second) }
	ctx := context.Background()

	m, err := r.JobMetrics(ctx, "run")
	require.NoError(t, err)
	assert.InDelta(t, 2, m.ThroughputPerSecond, 1e-9)
	require.NotNil(t, m.ETASeconds)
	assert.InDelta(t, 30, *m.ETASeconds, 1e-9)
	require.NotNil(t, m.SuccessRate)
	assert.InDelta(t, 0.9, *m.SuccessRate, 1e-9)
	assert.Equal(t, domain.ActivityTicking, m.Activity)

	m, err = r.JobMetrics(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, m.ETASeconds)
	assert.Nil(t, m.SuccessRate)
	assert.Zero(t, m.ThroughputPerSecond)
	assert.Equal(t, domain.ActivityIdle, m.Activity)

	m, err = r.JobMetrics(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, m.ETASeconds)
	assert.Zero(t, *m.ETASeconds)
	assert.InDelta(t, 1, *m.SuccessRate, 1e-9)

	m, err = r.JobMetrics(ctx, "held")
	require.NoError(t, err)
	assert.Nil(t, m.ETASeconds)
	assert.Zero(t, m.ThroughputPerSecond)
	assert.Equal(t, domain.ActivityIdle, m.Activity)

	_, err = r.JobMetrics(ctx, "missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestJobMetricsStalledHasNoETA(t *testing.T) {
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{jobs: map[string]*domain.MigrationJob{
		"j": {ID: "j", Status: domain.JobStatusRunning, TotalRecords: 10, ProcessedRecords: 5},
	}}
	progress := NewProgress(10, time.Minute)
	progress.Record("j", 5, base)
	progress.Record("j", 5, base.Add(time.Second))

	m, err := NewReporter(NewStaticSource(Reading{}), jobs, progress, ReporterConfig{}).JobMetrics(context.Background(), "j")
	require.NoError(t, err)
	assert.Nil(t, m.ETASeconds)
	assert.Zero(t, m.ThroughputPerSecond)
}

func TestJobMetricsExpiresOldProgress(t *testing.T) {
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{
		activity: domain.ActivityWaiting,
		jobs: map[string]*domain.MigrationJob{
			"j": {ID: "j", Status: domain.JobStatusRunning, TotalRecords: 100, ProcessedRecords: 40},
		},
	}
	progress := NewProgress(10, 30*time.Second)
	progress.Record("j", 20, base)
	progress.Record("j", 40, base.Add(10*time.Second))
	r := NewReporter(NewStaticSource(Reading{}), jobs, progress, ReporterConfig{})

	r.now = func() time.Time { return base.Add(30 * time.Second) }
	m, err := r.JobMetrics(context.Background(), "j")
	require.NoError(t, err)
	require.NotNil(t, m.ETASeconds)
	assert.InDelta(t, 30, *m.ETASeconds, 1e-9)

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	m, err = r.JobMetrics(context.Background(), "j")
	require.NoError(t, err)
	assert.Nil(t, m.ETASeconds)
	assert.Zero(t, m.ThroughputPerSecond)
	assert.Equal(t, domain.ActivityWaiting, m.Activity)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/metrics" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"collector offline"}`))
			return
		}
		_, _ = w.Write([]byte(`{"cpu_percent":42.5,"memory_percent":61,"disk_percent":77.25,"network_latency_ms":12.5}`))
	}))
	defer srv.Close()

	reading, err := NewHTTPSource(srv.URL+"/metrics", time.Second).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.5, reading.CPU)
	assert.Equal(t, 61.0, reading.Memory)
	assert.Equal(t, 77.25, reading.Disk)
	assert.Equal(t, 12500*time.Microsecond, reading.NetworkLatency)

	_, err = NewHTTPSource(srv.URL+"/down", time.Second).Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector offline")
}

func TestWatchEmitsUntilCancelled(t *testing.T) {
	src := NewStaticSource(Reading{CPU: 10})
	r := NewReporter(src, &fakeJobs{}, NewProgress(0, 0), ReporterConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	ch := r.Watch(ctx, 2*time.Millisecond)
	snap, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, 10.0, snap.CPU)

	cancel()
	for range ch {
	}
}
