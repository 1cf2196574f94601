package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/source"
	"github.com/timmy/batchmigrate/internal/source/directory"
	"github.com/timmy/batchmigrate/internal/source/staging"
	"github.com/timmy/batchmigrate/internal/storage"
)

func (f *fakeStore) AssetExistsByChecksum(_ context.Context, owner, checksum string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assets {
		if a.OwnerID == owner && a.Checksum == checksum {
			return true, nil
		}
	}
	return false, nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func newImportPipeline() (*Pipeline, *fakeStore) {
	store := newFakeStore()
	pl := NewPipeline(store, storage.NewMemoryStorage(""), Options{Policy: defaultPolicy})
	return pl, store
}

func TestImportFromDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.csv"), "id\n1\n")
	writeFile(t, filepath.Join(root, "vendors", "b.csv"), "id\n2\n")
	writeFile(t, filepath.Join(root, "vendors", "c.tsv"), "id\tname\n3\tx\n")
	writeFile(t, filepath.Join(root, "notes.md"), "# not a dataset")
	writeFile(t, filepath.Join(root, ".hidden", "d.csv"), "id\n4\n")
	writeFile(t, filepath.Join(root, "bad.csv"), "id\n\"unterminated\n")

	pl, store := newImportPipeline()
	im := NewImporter(pl, store, 3, 2)

	stats, err := im.ImportFromSource(context.Background(), directory.NewAdapter(root), ImportOptions{Owner: "ops"})
	require.NoError(t, err)

	assert.EqualValues(t, 4, stats.TotalItems)
	assert.EqualValues(t, 3, stats.Imported)
	assert.EqualValues(t, 1, stats.RejectedItems)
	assert.Equal(t, map[string]int{string(domain.AdmissionMalformedDataset): 1}, stats.Rejections)
	assert.Len(t, stats.AssetIDs, 3)

	var categories []string
	for _, id := range stats.AssetIDs {
		a, err := store.GetAsset(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "ops", a.OwnerID)
		assert.NotEmpty(t, a.Metadata["import_id"])
		categories = append(categories, a.Metadata["category"])
	}
	sort.Strings(categories)
	assert.Equal(t, []string{"", "vendors", "vendors"}, categories)
}

func TestImportSkipsDuplicatesUnlessForced(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.csv"), "id\n1\n")
	writeFile(t, filepath.Join(root, "b.csv"), "id\n2\n")

	pl, store := newImportPipeline()
	im := NewImporter(pl, store, 1, 10)
	ctx := context.Background()

	first, err := im.ImportFromSource(ctx, directory.NewAdapter(root), ImportOptions{Owner: "ops"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Imported)

	again, err := im.ImportFromSource(ctx, directory.NewAdapter(root), ImportOptions{Owner: "ops"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, again.Imported)
	assert.EqualValues(t, 2, again.SkippedItems)

	other, err := im.ImportFromSource(ctx, directory.NewAdapter(root), ImportOptions{Owner: "finance"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, other.Imported)

	forced, err := im.ImportFromSource(ctx, directory.NewAdapter(root), ImportOptions{Owner: "ops", Force: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, forced.Imported)
}

func TestImportHonoursLimit(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, filepath.Join(root, n+".csv"), "id\n"+n+"\n")
	}
	pl, store := newImportPipeline()

	stats, err := NewImporter(pl, store, 2, 2).ImportFromSource(context.Background(), directory.NewAdapter(root), ImportOptions{Owner: "ops", Limit: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalItems)
	assert.EqualValues(t, 3, stats.Imported)
}

func TestImportFromStagingManifest(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "erp")
	writeFile(t, filepath.Join(dir, staging.DatasetsDir, "vendors.csv"), "id\n1\n")
	writeFile(t, filepath.Join(dir, staging.DatasetsDir, "billing.csv"), "id\n2\n")
	writeFile(t, filepath.Join(dir, staging.ManifestFileName), `{"id":"v1","filename":"vendors.csv","owner":"procurement","metadata":{"batch":"7"}}
not json
{"id":"b1","filename":"billing.csv","category":"finance"}
{"id":"m1","filename":"missing.csv"}
`)

	sources, err := staging.ListStagingSources(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"erp"}, sources)

	pl, store := newImportPipeline()
	stats, err := NewImporter(pl, store, 2, 10).ImportFromSource(context.Background(), staging.NewAdapter(base, "erp"), ImportOptions{Owner: "ops"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Imported)

	owners := map[string]string{}
	for _, id := range stats.AssetIDs {
		a, err := store.GetAsset(context.Background(), id)
		require.NoError(t, err)
		owners[a.Metadata["staging_id"]] = a.OwnerID
		if a.Metadata["staging_id"] == "v1" {
			assert.Equal(t, "7", a.Metadata["batch"])
		}
	}
	assert.Equal(t, map[string]string{"v1": "procurement", "b1": "ops"}, owners)
}

type failingSource struct{}

func (failingSource) GetSourceID() string    { return "broken" }
func (failingSource) GetDisplayName() string { return "Broken" }
func (failingSource) FetchBatch(context.Context, string, int) ([]source.Item, string, error) {
	return nil, "", errors.New("disk gone")
}

func TestImportReportsSourceFailure(t *testing.T) {
	pl, store := newImportPipeline()
	stats, err := NewImporter(pl, store, 1, 1).ImportFromSource(context.Background(), failingSource{}, ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Zero(t, stats.TotalItems)
	assert.False(t, stats.EndTime.Before(stats.StartTime))
}

func TestPage(t *testing.T) {
	items := []source.Item{{SourceID: "a"}, {SourceID: "b"}, {SourceID: "c"}}

	got, next, err := source.Page(items, "", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "2", next)

	got, next, err = source.Page(items, next, 2)
	require.NoError(t, err)
	assert.Equal(t, "c", got[0].SourceID)
	assert.Empty(t, next)

	got, _, err = source.Page(items, "9", 2)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, _, err = source.Page(items, "x", 2)
	assert.Error(t, err)
}
