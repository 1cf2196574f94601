package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/batchmigrate/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenMemory(t.Name())
	require.NoError(t, err)
	s := NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAsset(t *testing.T, s *Store, id string) *domain.UploadedAsset {
	t.Helper()
	asset := &domain.UploadedAsset{
		ID:                 id,
		OwnerID:            "ops",
		StoragePath:        "ops/2024/01/02/" + id + ".csv",
		SizeBytes:          12,
		DeclaredName:       id + ".csv",
		DeclaredType:       "text/csv",
		UploadStatus:       domain.UploadStatusCompleted,
		ProcessingStatus:   domain.ProcessingStatusPending,
		ComplianceStatus:   domain.ComplianceUnknown,
		SecurityScanStatus: domain.ScanPending,
		Metadata:           domain.StringMap{"source": "test"},
		UploadedAt:         time.Now().UTC(),
	}
	require.NoError(t, s.CreateAsset(context.Background(), asset))
	return asset
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s, "a1")

	job := &domain.MigrationJob{
		ID:           "j1",
		Name:         "sims",
		AssetID:      "a1",
		SchemaName:   "sim_inventory",
		Status:       domain.JobStatusPending,
		TotalRecords: 3,
		Attempt:      1,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	job.Status = domain.JobStatusRunning
	job.ProcessedRecords = 2
	job.ErrorCount = 1
	job.ErrorDetails = job.ErrorDetails.Append(domain.ErrorDetail{Row: 3, Class: "terminal", Message: "boom"}, 0)
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
	assert.Equal(t, 2, got.ProcessedRecords)
	require.Len(t, got.ErrorDetails, 1)
	assert.Equal(t, 3, got.ErrorDetails[0].Row)

	_, err = s.GetJob(ctx, "missing")
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestListJobsAndActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s, "a1")

	statuses := []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusRunning, domain.JobStatusFailed}
	for i, st := range statuses {
		require.NoError(t, s.CreateJob(ctx, &domain.MigrationJob{
			ID: fmt.Sprintf("j%d", i), Name: "n", AssetID: "a1", SchemaName: "vendor", Status: st, Attempt: 1,
		}))
	}

	running, err := s.ListJobs(ctx, domain.JobFilter{Status: domain.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "j1", running[0].ID)

	all, err := s.ListJobs(ctx, domain.JobFilter{AssetID: "a1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.DeleteAsset(ctx, "a1")
	var conflict *domain.ConflictError
	assert.True(t, errors.As(err, &conflict), "running job must block delete, got %v", err)

	ids, err := s.RunningJobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, ids)

	running[0].Status = domain.JobStatusPaused
	require.NoError(t, s.UpdateJob(ctx, &running[0]))
	ids, err = s.RunningJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAssetLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	asset := seedAsset(t, s, "a1")

	dup := *asset
	dup.ID = "a2"
	err := s.CreateAsset(ctx, &dup)
	var conflict *domain.ConflictError
	assert.True(t, errors.As(err, &conflict), "duplicate storage path must conflict, got %v", err)

	exists, err := s.AssetExistsByPath(ctx, asset.StoragePath)
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := s.ListAssets(ctx, domain.AssetFilter{OwnerID: "ops"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "test", list[0].Metadata["source"])

	deleted, err := s.DeleteAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, asset.StoragePath, deleted.StoragePath)
	_, err = s.DeleteAsset(ctx, "a1")
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestCreateJobRequiresAsset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s, "a1")

	_, err := s.DeleteAsset(ctx, "a1")
	require.NoError(t, err)

	err = s.CreateJob(ctx, &domain.MigrationJob{ID: "j1", Name: "n", AssetID: "a1", SchemaName: "vendor", Status: domain.JobStatusPending, Attempt: 1})
	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf), "job on a deleted asset must fail, got %v", err)
	assert.Equal(t, "asset", nf.Entity)

	jobs, err := s.ListJobs(ctx, domain.JobFilter{AssetID: "a1"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDeleteAssetAllowsFinishedJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAsset(t, s, "a1")
	require.NoError(t, s.CreateJob(ctx, &domain.MigrationJob{ID: "j1", Name: "n", AssetID: "a1", SchemaName: "vendor", Status: domain.JobStatusCompleted, Attempt: 1}))

	_, err := s.DeleteAsset(ctx, "a1")
	require.NoError(t, err)
}

func TestValidationResults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res := &domain.ValidationResult{
		ID:          "v1",
		JobID:       "j1",
		Attempt:     1,
		SchemaName:  "subscriber",
		IsValid:     false,
		Errors:      domain.Issues{{Row: 3, Column: "msisdn", Message: "invalid format"}},
		RecordCount: 2,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveValidation(ctx, res))

	got, err := s.GetValidation(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, res.Errors, got.Errors)
	assert.Empty(t, got.Warnings)

	list, err := s.ListValidations(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCommitRecordRecommitOverwritesSameRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := domain.Record{JobID: "j1", SchemaName: "subscriber", Row: 2, Key: "2547001", Fields: domain.StringMap{"msisdn": "2547001"}}
	require.NoError(t, s.CommitRecord(ctx, rec))

	rec.Fields = domain.StringMap{"msisdn": "2547001", "plan": "gold"}
	require.NoError(t, s.CommitRecord(ctx, rec))

	n, err := s.CountRecords(ctx, "subscriber")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := s.ListRecords(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "gold", records[0].Payload["plan"])
}

func TestCommitRecordEarliestCommitWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CommitRecord(ctx, domain.Record{JobID: "j1", SchemaName: "vendor", Row: 2, Key: "ACME", Fields: domain.StringMap{"name": "first"}}))

	tests := []struct {
		name string
		rec  domain.Record
	}{
		{"later row of the same job", domain.Record{JobID: "j1", SchemaName: "vendor", Row: 3, Key: "ACME", Fields: domain.StringMap{"name": "second"}}},
		{"another job", domain.Record{JobID: "j2", SchemaName: "vendor", Row: 2, Key: "ACME", Fields: domain.StringMap{"name": "other"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CommitRecord(ctx, tt.rec)
			var ce *domain.CommitError
			require.ErrorAs(t, err, &ce)
			assert.False(t, ce.Retryable())
			assert.Equal(t, tt.rec.Row, ce.Row)
			assert.ErrorIs(t, err, domain.ErrKeyCommitted)
			assert.Contains(t, err.Error(), "job j1 row 2")
		})
	}

	records, err := s.ListRecords(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Row)
	assert.Equal(t, "first", records[0].Payload["name"])
}

func TestCommitRecordWithoutKeyIsTerminal(t *testing.T) {
	s := newTestStore(t)
	err := s.CommitRecord(context.Background(), domain.Record{SchemaName: "vendor", Row: 4})

	var ce *domain.CommitError
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.Retryable())
	assert.Equal(t, 4, ce.Row)
}

func TestCommitRecordCancelledIsRetryable(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.CommitRecord(ctx, domain.Record{SchemaName: "vendor", Row: 2, Key: "V1"})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestExistingKeysExcludesJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CommitRecord(ctx, domain.Record{JobID: "old", SchemaName: "vendor", Row: 2, Key: "V1"}))
	require.NoError(t, s.CommitRecord(ctx, domain.Record{JobID: "self", SchemaName: "vendor", Row: 3, Key: "V2"}))
	require.NoError(t, s.CommitRecord(ctx, domain.Record{JobID: "old", SchemaName: "billing", Row: 2, Key: "V3"}))

	found, err := s.ExistingKeys(ctx, "vendor", []string{"V1", "V2", "V3", "V1"}, "self")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"V1": true}, found)

	found, err = s.ExistingKeys(ctx, "vendor", []string{"V1", "V2"}, "")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestOrphans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	o := &domain.OrphanBlob{StoragePath: "ops/x.csv", Reason: "row insert failed", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.RecordOrphan(ctx, o))
	require.NotZero(t, o.ID)

	require.NoError(t, s.TouchOrphan(ctx, o.ID))
	require.NoError(t, s.TouchOrphan(ctx, o.ID))

	pending, err := s.ListOrphans(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)

	pending, err = s.ListOrphans(ctx, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.ResolveOrphan(ctx, o.ID, time.Now().UTC()))
	pending, err = s.ListOrphans(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
