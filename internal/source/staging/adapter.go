package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/batchmigrate/internal/logger"
	"github.com/timmy/batchmigrate/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// DatasetsDir is the directory name for staged dataset files.
	DatasetsDir = "datasets"
)

// ManifestItem represents a line of manifest.jsonl.
type ManifestItem struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	Owner       string            `json:"owner"`
	ContentType string            `json:"content_type"`
	Category    string            `json:"category"`
	Metadata    map[string]string `json:"metadata"`
}

// Adapter implements the Source interface for a staging directory laid out
// as <base>/<source>/manifest.jsonl plus <base>/<source>/datasets/.
type Adapter struct {
	basePath string
	sourceID string
	items    []source.Item
	loaded   bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: identifier for the staging source.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch fetches a batch of items listed in the manifest.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of items to fetch.
// Returns:
//   - []source.Item: batch of items.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to load staging items: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.items, cursor, limit)
}

// loadItems reads the manifest. Malformed lines and entries whose file is
// missing are skipped.
func (a *Adapter) loadItems(ctx context.Context) error {
	stagingPath := filepath.Join(a.basePath, a.sourceID)
	manifestPath := filepath.Join(stagingPath, ManifestFileName)
	datasetsPath := filepath.Join(stagingPath, DatasetsDir)

	file, err := os.Open(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("manifest file not found: %s", manifestPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.Item{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			logger.CtxWarn(ctx, "Skipping malformed manifest line: line=%d, error=%v", lineNo, err)
			continue
		}
		if item.ID == "" || item.Filename == "" {
			logger.CtxWarn(ctx, "Skipping manifest line without id or filename: line=%d", lineNo)
			continue
		}

		localPath := filepath.Join(datasetsPath, filepath.Base(item.Filename))
		if _, err := os.Stat(localPath); err != nil {
			logger.CtxWarn(ctx, "Skipping manifest entry with missing file: id=%s, path=%s", item.ID, localPath)
			continue
		}

		meta := make(map[string]string, len(item.Metadata)+1)
		for k, v := range item.Metadata {
			meta[k] = v
		}
		meta["staging_id"] = item.ID

		a.items = append(a.items, source.Item{
			SourceID:    fmt.Sprintf("%s_%s", a.sourceID, item.ID),
			Name:        filepath.Base(item.Filename),
			LocalPath:   localPath,
			ContentType: item.ContentType,
			OwnerID:     item.Owner,
			Category:    item.Category,
			Metadata:    meta,
		})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}

// GetTotalCount returns the total number of items in staging.
func (a *Adapter) GetTotalCount(ctx context.Context) (int, error) {
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return 0, err
		}
		a.loaded = true
	}
	return len(a.items), nil
}

// ListStagingSources lists the staging sources under basePath, i.e. the
// subdirectories that carry a manifest.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}
	return sources, nil
}
