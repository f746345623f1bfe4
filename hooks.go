package picksync

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths, sometimes while a batch is in flight.
type Hooks interface {
	// A background refresh failed; the cached value was left untouched.
	RefreshFailed(key string, err error)

	// A miss-path fetch failed; the caller got an empty result.
	FetchFailed(key string, err error)

	// One chunk of a scan batch failed to write. Its cache reconciliation
	// was applied anyway.
	ChunkFailed(err *ChunkError)

	// The query tracker flagged a rapid or frequent repeat.
	DuplicateQuery(op, key string, sinceLast time.Duration, count int)

	// A cleanup pass removed expired entries and stale generations.
	Swept(entries, gens int)

	// The persister failed to write or delete a snapshot.
	PersistFailed(key string, err error)

	// The persister queue was full and the op was dropped.
	PersistDropped(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) RefreshFailed(string, error)                       {}
func (NopHooks) FetchFailed(string, error)                         {}
func (NopHooks) ChunkFailed(*ChunkError)                           {}
func (NopHooks) DuplicateQuery(string, string, time.Duration, int) {}
func (NopHooks) Swept(int, int)                                    {}
func (NopHooks) PersistFailed(string, error)                       {}
func (NopHooks) PersistDropped(string)                             {}
