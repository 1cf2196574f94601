package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	assets    map[string]*domain.UploadedAsset
	orphans   []*domain.OrphanBlob
	active    map[string]bool
	createErr error
	creates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{assets: map[string]*domain.UploadedAsset{}, active: map[string]bool{}}
}

func (f *fakeStore) CreateAsset(_ context.Context, a *domain.UploadedAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	cp := *a
	f.assets[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetAsset(_ context.Context, id string) (*domain.UploadedAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "asset", ID: id}
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListAssets(_ context.Context, filter domain.AssetFilter) ([]domain.UploadedAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UploadedAsset
	for _, a := range f.assets {
		if filter.OwnerID == "" || a.OwnerID == filter.OwnerID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAsset(_ context.Context, id string) (*domain.UploadedAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "asset", ID: id}
	}
	if f.active[id] {
		return nil, &domain.ConflictError{Op: "delete", Entity: "asset", ID: id, Reason: "referenced by an unfinished job"}
	}
	delete(f.assets, id)
	return a, nil
}

func (f *fakeStore) RecordOrphan(_ context.Context, o *domain.OrphanBlob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.ID = uint(len(f.orphans) + 1)
	f.orphans = append(f.orphans, o)
	return nil
}

func (f *fakeStore) ListOrphans(_ context.Context, maxAttempts, _ int) ([]domain.OrphanBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrphanBlob
	for _, o := range f.orphans {
		if o.ResolvedAt == nil && o.Attempts < maxAttempts {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveOrphan(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans[id-1].ResolvedAt = &at
	return nil
}

func (f *fakeStore) TouchOrphan(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphans[id-1].Attempts++
	return nil
}

func (f *fakeStore) AssetExistsByPath(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assets {
		if a.StoragePath == path {
			return true, nil
		}
	}
	return false, nil
}

// countingBlobs counts writes to the wrapped memory store.
type countingBlobs struct {
	*storage.MemoryStorage
	puts, deletes int
	deleteErr     error
}

func (c *countingBlobs) Put(ctx context.Context, path string, data []byte, ct string) error {
	c.puts++
	return c.MemoryStorage.Put(ctx, path, data, ct)
}

func (c *countingBlobs) Delete(ctx context.Context, path string) error {
	c.deletes++
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.MemoryStorage.Delete(ctx, path)
}

var defaultPolicy = Policy{
	MaxSizeBytes:              1024,
	AllowedTypes:              []string{"text/csv", "text/tab-separated-values"},
	RequireAuthenticatedOwner: true,
}

func newTestPipeline(p Policy) (*Pipeline, *fakeStore, *countingBlobs) {
	store := newFakeStore()
	blobs := &countingBlobs{MemoryStorage: storage.NewMemoryStorage("")}
	pl := NewPipeline(store, blobs, Options{Policy: p, SignedURLTTL: time.Minute})
	pl.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	return pl, store, blobs
}

func admissionReason(t *testing.T, err error) domain.AdmissionReason {
	t.Helper()
	var ae *domain.AdmissionError
	require.True(t, errors.As(err, &ae), "expected admission error, got %v", err)
	return ae.Reason
}

func TestIngestRejectsWithoutWrites(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		policy Policy
		reason domain.AdmissionReason
	}{
		{
			name:   "oversized",
			upload: Upload{OwnerID: "ops", Data: []byte(strings.Repeat("x", 2048)), DeclaredName: "big.csv"},
			policy: defaultPolicy,
			reason: domain.AdmissionTooLarge,
		},
		{
			name:   "anonymous",
			upload: Upload{Data: []byte("id\n1\n"), DeclaredName: "a.csv"},
			policy: defaultPolicy,
			reason: domain.AdmissionUnauthenticated,
		},
		{
			name:   "wrong type",
			upload: Upload{OwnerID: "ops", Data: []byte("%PDF"), DeclaredName: "a.pdf", DeclaredType: "application/pdf"},
			policy: defaultPolicy,
			reason: domain.AdmissionTypeNotAllowed,
		},
		{
			name:   "invalid utf8",
			upload: Upload{OwnerID: "ops", Data: []byte{'i', 'd', '\n', 0xff, 0xfe, '\n'}, DeclaredName: "a.csv"},
			policy: defaultPolicy,
			reason: domain.AdmissionUnreadableEncoding,
		},
		{
			name:   "invalid utf8 under a non-delimited type",
			upload: Upload{OwnerID: "ops", Data: []byte{'{', 0xff, '}'}, DeclaredName: "a.json", DeclaredType: "application/json"},
			policy: Policy{AllowedTypes: []string{"application/json"}, RequireAuthenticatedOwner: true},
			reason: domain.AdmissionUnreadableEncoding,
		},
		{
			name:   "empty",
			upload: Upload{OwnerID: "ops", DeclaredName: "a.csv"},
			policy: defaultPolicy,
			reason: domain.AdmissionEmptyUpload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl, store, blobs := newTestPipeline(tt.policy)
			_, err := pl.Ingest(context.Background(), tt.upload)

			assert.Equal(t, tt.reason, admissionReason(t, err))
			assert.Zero(t, blobs.puts, "storage writes")
			assert.Zero(t, store.creates, "store writes")
			assert.Zero(t, blobs.Len())
		})
	}
}

func TestIngestRateLimitsPerOwner(t *testing.T) {
	p := defaultPolicy
	p.UploadsPerMinute = 1
	pl, _, blobs := newTestPipeline(p)
	ctx := context.Background()

	_, err := pl.Ingest(ctx, Upload{OwnerID: "ops", Data: []byte("id\n1\n"), DeclaredName: "a.csv"})
	require.NoError(t, err)

	_, err = pl.Ingest(ctx, Upload{OwnerID: "ops", Data: []byte("id\n2\n"), DeclaredName: "b.csv"})
	assert.Equal(t, domain.AdmissionRateLimited, admissionReason(t, err))

	_, err = pl.Ingest(ctx, Upload{OwnerID: "other", Data: []byte("id\n3\n"), DeclaredName: "c.csv"})
	require.NoError(t, err)
	assert.Equal(t, 2, blobs.puts)
}

func TestIngestStoresBlobThenRow(t *testing.T) {
	pl, store, blobs := newTestPipeline(defaultPolicy)
	pl.newID = func() string { return "0f8fad5b-d9cb-469f-a165-70867728950e" }

	asset, err := pl.Ingest(context.Background(), Upload{
		OwnerID:      "ops",
		Data:         []byte("iccid\n8925401000000000001\n"),
		DeclaredName: "../sims march.csv",
		Metadata:     map[string]string{"batch": "7"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ops/2024/03/09/1709978400000000000-0f8fad5b-sims_march.csv", asset.StoragePath)
	assert.Equal(t, "text/csv", asset.DeclaredType)
	assert.Equal(t, domain.UploadStatusCompleted, asset.UploadStatus)
	assert.Equal(t, domain.ProcessingStatusPending, asset.ProcessingStatus)
	assert.Equal(t, int64(26), asset.SizeBytes)
	assert.Equal(t, 1, blobs.puts)
	assert.Equal(t, 1, store.creates)

	ds, err := pl.LoadDataset(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"iccid"}, ds.Header)
	require.Len(t, ds.Rows, 1)
}

func TestIngestRecordsOrphanWhenRowFails(t *testing.T) {
	pl, store, blobs := newTestPipeline(defaultPolicy)
	store.createErr = errors.New("db down")

	_, err := pl.Ingest(context.Background(), Upload{OwnerID: "ops", Data: []byte("id\n1\n"), DeclaredName: "a.csv"})
	require.Error(t, err)

	require.Len(t, store.orphans, 1)
	assert.Equal(t, 1, blobs.Len(), "blob is kept for the reconciler")
	assert.Zero(t, blobs.deletes)
	assert.Contains(t, store.orphans[0].Reason, "db down")
}

func TestDeleteAsset(t *testing.T) {
	ctx := context.Background()
	pl, store, blobs := newTestPipeline(defaultPolicy)

	asset, err := pl.Ingest(ctx, Upload{OwnerID: "ops", Data: []byte("id\n1\n"), DeclaredName: "a.csv"})
	require.NoError(t, err)

	store.active[asset.ID] = true
	err = pl.Delete(ctx, asset.ID)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 1, blobs.Len())

	store.active[asset.ID] = false
	require.NoError(t, pl.Delete(ctx, asset.ID))
	assert.Zero(t, blobs.Len())
	_, err = pl.GetAsset(ctx, asset.ID)
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Empty(t, store.orphans)
}

func TestDeleteAssetBlobFailureLeavesOrphan(t *testing.T) {
	ctx := context.Background()
	pl, store, blobs := newTestPipeline(defaultPolicy)

	asset, err := pl.Ingest(ctx, Upload{OwnerID: "ops", Data: []byte("id\n1\n"), DeclaredName: "a.csv"})
	require.NoError(t, err)

	blobs.deleteErr = errors.New("bucket unavailable")
	require.NoError(t, pl.Delete(ctx, asset.ID))

	_, err = pl.GetAsset(ctx, asset.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	require.Len(t, store.orphans, 1)
	assert.Equal(t, asset.StoragePath, store.orphans[0].StoragePath)
	assert.Contains(t, store.orphans[0].Reason, "bucket unavailable")

	blobs.deleteErr = nil
	rec := NewReconciler(store, blobs, ReconcilerConfig{MaxAttempts: 3, BatchSize: 10})
	stats, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, blobs.Len())
}

func TestDeleteMissingAsset(t *testing.T) {
	pl, _, blobs := newTestPipeline(defaultPolicy)

	err := pl.Delete(context.Background(), "nope")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Zero(t, blobs.deletes)
}

func TestDownloadHandle(t *testing.T) {
	ctx := context.Background()
	pl, _, _ := newTestPipeline(defaultPolicy)

	asset, err := pl.Ingest(ctx, Upload{OwnerID: "ops", Data: []byte("id\n1\n"), DeclaredName: "a.csv"})
	require.NoError(t, err)

	h, err := pl.DownloadHandle(ctx, asset.ID)
	require.NoError(t, err)
	assert.Contains(t, h.URL, "signature=")
	assert.Equal(t, pl.now().Add(time.Minute), h.ExpiresAt)

	_, err = pl.DownloadHandle(ctx, "nope")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestReconcilerSweep(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	blobs := &countingBlobs{MemoryStorage: storage.NewMemoryStorage("")}

	require.NoError(t, blobs.MemoryStorage.Put(ctx, "ops/orphan.csv", []byte("x"), ""))
	require.NoError(t, blobs.MemoryStorage.Put(ctx, "ops/claimed.csv", []byte("x"), ""))
	store.assets["a1"] = &domain.UploadedAsset{ID: "a1", StoragePath: "ops/claimed.csv"}
	require.NoError(t, store.RecordOrphan(ctx, &domain.OrphanBlob{StoragePath: "ops/orphan.csv"}))
	require.NoError(t, store.RecordOrphan(ctx, &domain.OrphanBlob{StoragePath: "ops/claimed.csv"}))

	r := NewReconciler(store, blobs, ReconcilerConfig{})
	stats, err := r.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepStats{Deleted: 1, Claimed: 1}, stats)
	ok, _ := blobs.Exists(ctx, "ops/orphan.csv")
	assert.False(t, ok)
	ok, _ = blobs.Exists(ctx, "ops/claimed.csv")
	assert.True(t, ok)

	stats, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
}

func TestReconcilerCountsFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	blobs := &countingBlobs{MemoryStorage: storage.NewMemoryStorage(""), deleteErr: errors.New("bucket offline")}
	require.NoError(t, store.RecordOrphan(ctx, &domain.OrphanBlob{StoragePath: "ops/x.csv"}))

	r := NewReconciler(store, blobs, ReconcilerConfig{MaxAttempts: 2, Retries: 2})
	r.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	stats, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, blobs.deletes, "initial attempt plus two retries")
	assert.Equal(t, 1, store.orphans[0].Attempts)

	_, _ = r.Sweep(ctx)
	stats, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats, "orphan over the attempt bound is skipped")
}

func TestStoragePathSanitizes(t *testing.T) {
	at := time.Date(2023, 12, 1, 0, 0, 0, 5, time.UTC)
	p := StoragePath("team lead/ops", "Q4 subscribers (final).csv", "abcdef123456", at)
	assert.Equal(t, "team_lead_ops/2023/12/01/1701388800000000005-abcdef12-Q4_subscribers__final_.csv", p)

	assert.Equal(t, "anonymous/2023/12/01/1701388800000000005-abcdef12-upload", StoragePath("", "", "abcdef123456", at))
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/csv", MediaType("text/csv; charset=utf-8", "x"))
	assert.Equal(t, "text/tab-separated-values", MediaType("", "dump.TSV"))
	assert.Equal(t, "application/octet-stream", MediaType("", "dump.bin"))
	assert.Equal(t, '\t', Delimiter("text/tab-separated-values"))
}
