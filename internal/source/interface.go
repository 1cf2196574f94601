package source

import (
	"context"
	"fmt"
	"strconv"
)

// Item is one dataset file offered by a source.
type Item struct {
	SourceID    string // Unique ID within the source
	Name        string // File name declared on upload
	LocalPath   string // Local file path
	ContentType string // Declared content type, empty to infer from Name
	OwnerID     string // Owner to upload as, empty for the importer default
	Category    string // Folder or manifest category
	Metadata    map[string]string
}

// Source defines the interface for bulk dataset sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of dataset items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}

// Page slices items at an index cursor. Adapters that load everything up
// front share it.
func Page(items []Item, cursor string, limit int) ([]Item, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if start >= len(items) {
		return []Item{}, "", nil
	}

	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return items[start:end], next, nil
}
