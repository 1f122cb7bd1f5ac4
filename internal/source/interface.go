package source

import (
	"context"

	"github.com/timmy/assetingest/internal/domain"
)

// Item is one dataset file offered by a source.
type Item struct {
	SourceID  string         // Unique ID within the source
	Name      string         // Display name; empty keeps the filename
	LocalPath string         // Local file path
	Mapping   domain.Mapping // Optional mapping overrides
}

// Source defines the interface for batch import sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}
