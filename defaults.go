package picksync

import "time"

const (
	defaultTTL             = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
	defaultGenRetention    = 24 * time.Hour
	defaultChunkSize       = 50
	defaultRefreshTimeout  = 30 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
