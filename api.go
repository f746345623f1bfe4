package picksync

import (
	"context"
	"time"
)

// Cache is the sync cache API used by the scanning workflow.
//
// Reads never fail: on an unrecoverable source error they return an empty
// value, so callers must treat empty as "try again later", not as "confirmed
// empty". Failures are visible through Stats and Hooks.
type Cache interface {
	// Reads (stale-while-revalidate)
	GetPicklistNumbers(ctx context.Context) []string
	GetItems(ctx context.Context, picklist string) []PickItem
	GetItemsBatch(ctx context.Context, picklists []string) map[string][]PickItem
	GetProcessedTags(ctx context.Context, picklist string) []string
	GetStatus(ctx context.Context, picklist string) PicklistStatus
	GetAllStatuses(ctx context.Context, picklists []string) map[string]PicklistStatus
	GetItemsAndTags(ctx context.Context, picklist string) ([]PickItem, []string)

	// Writes
	SubmitScan(ctx context.Context, rec ScanRecord) bool
	SubmitScansBatch(ctx context.Context, recs []ScanRecord) bool
	SubmitScans(ctx context.Context, recs []ScanRecord) BatchResult
	UpdateStatus(ctx context.Context, picklist, label string) bool

	// Admin
	Invalidate(picklist string)
	InvalidateAll()
	CleanupExpired() int
	Stats() Stats
	Warm(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// Options tune the cache. Only Source is required; others have sensible defaults.
type Options struct {
	// Required
	Source DataSource

	Logger    Logger        // if nil, NopLogger is used
	Hooks     Hooks         // if nil, NopHooks is used
	Tracker   *QueryTracker // nil => a private tracker wired to Logger and Hooks
	Persister Persister     // nil => memory only; see package persist

	DefaultTTL      time.Duration          // 0 => 30m; negative => entries never expire
	TTLs            map[Kind]time.Duration // per-kind override of DefaultTTL
	CleanupInterval time.Duration          // 0 => 5m; negative disables the cleanup loop
	GenRetention    time.Duration          // 0 => 24h; also the tracker idle window
	ChunkSize       int                    // 0 => 50 records per WriteChunk
	MaxFanOut       int                    // 0 => one goroutine per uncached key
	RefreshTimeout  time.Duration          // 0 => 30s per background refresh or shared miss fetch

	Now func() time.Time // nil => time.Now; for tests
}

func New(opts Options) (Cache, error) {
	return newCache(opts)
}
