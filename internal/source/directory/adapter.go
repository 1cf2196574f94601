package directory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/batchmigrate/internal/source"
)

// Adapter implements the Source interface for a local directory tree of
// delimited files.
type Adapter struct {
	root   string
	items  []source.Item // Cached items
	loaded bool
}

// NewAdapter creates a new directory adapter rooted at root.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

// GetSourceID returns the unique identifier for this source
func (a *Adapter) GetSourceID() string {
	return "dir:" + filepath.Base(a.root)
}

// GetDisplayName returns a human-readable name for this source
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Directory (%s)", a.root)
}

// FetchBatch fetches a batch of dataset files
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load items: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.items, cursor, limit)
}

// loadItems walks the tree. The parent folder of each file becomes its category.
func (a *Adapter) loadItems() error {
	if _, err := os.Stat(a.root); err != nil {
		return fmt.Errorf("directory does not exist: %s", a.root)
	}

	a.items = []source.Item{}
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != a.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		switch strings.ToLower(filepath.Ext(name)) {
		case ".csv", ".tsv", ".txt":
		default:
			return nil // Skip non-delimited files
		}

		category := ""
		if dir := filepath.Dir(path); dir != a.root {
			category = filepath.Base(dir)
		}
		relPath, _ := filepath.Rel(a.root, path)
		relPath = filepath.ToSlash(relPath)

		meta := map[string]string{"source_path": relPath}
		if category != "" {
			meta["category"] = category
		}
		a.items = append(a.items, source.Item{
			SourceID:  strings.ReplaceAll(relPath, "/", "_"),
			Name:      name,
			LocalPath: path,
			Category:  category,
			Metadata:  meta,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	// Sort items by source ID for consistent ordering
	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}
