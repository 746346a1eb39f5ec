package source

import "context"

// ImageItem represents one image offered by a data source.
type ImageItem struct {
	SourceID string // Unique ID within the source
	Path     string // Local file path
	Format   string // File extension (jpg, png, gif, webp)
}

// Source defines the interface for image data sources feeding ingestion.
type Source interface {
	// GetSourceID returns the stable identifier for this source.
	GetSourceID() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of image items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []ImageItem, nextCursor string, err error)
}
