package picksync

import "context"

// DataSource is the remote store the cache synchronizes with. Every call may
// fail with a transport or server error. Only the fetches and CheckExisting are
// assumed idempotent.
type DataSource interface {
	FetchPicklistNumbers(ctx context.Context) ([]string, error)
	FetchItems(ctx context.Context, picklist string) ([]PickItem, error)
	FetchProcessedTags(ctx context.Context, picklist string) ([]string, error)

	// CheckExisting returns the subset of tagIDs already recorded.
	CheckExisting(ctx context.Context, tagIDs []string) (map[string]struct{}, error)

	// WriteChunk records all records in one call. ok=false with a nil error
	// means the store rejected the chunk.
	WriteChunk(ctx context.Context, records []ScanRecord) (ok bool, err error)

	UpdateStatus(ctx context.Context, picklist, label string) (ok bool, err error)
}
