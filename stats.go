package picksync

import (
	"time"

	"github.com/unkn0wn-root/picksync/internal/latency"
)

// LatencyStats summarises source call latency for one operation, in ms.
type LatencyStats = latency.Stats

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries map[string]int `json:"entries"` // per kind, expired-but-unswept included

	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	Derived          uint64 `json:"derived"` // statuses derived from cached items
	Refreshes        uint64 `json:"refreshes"`
	RefreshesSkipped uint64 `json:"refreshesSkipped"` // one already in flight
	RefreshesDropped uint64 `json:"refreshesDropped"` // key invalidated meanwhile
	RefreshFailures  uint64 `json:"refreshFailures"`
	FetchFailures    uint64 `json:"fetchFailures"`
	Cancellations    uint64 `json:"cancellations"`

	Batches        uint64 `json:"batches"`
	BatchesFailed  uint64 `json:"batchesFailed"`
	ChunksWritten  uint64 `json:"chunksWritten"`
	ChunksFailed   uint64 `json:"chunksFailed"`
	RecordsWritten uint64 `json:"recordsWritten"`
	RecordsSkipped uint64 `json:"recordsSkipped"`

	Swept     uint64    `json:"swept"`
	LastSweep time.Time `json:"lastSweep"`

	Tracker TrackerStats   `json:"tracker"`
	Latency []LatencyStats `json:"latency"`
}

func (c *cache) Stats() Stats {
	s := Stats{
		Entries: make(map[string]int, len(Kinds)),

		Hits:             c.stats.hits.Load(),
		Misses:           c.stats.misses.Load(),
		Derived:          c.stats.derived.Load(),
		Refreshes:        c.stats.refreshes.Load(),
		RefreshesSkipped: c.stats.refreshesSkipped.Load(),
		RefreshesDropped: c.stats.refreshesDropped.Load(),
		RefreshFailures:  c.stats.refreshFailures.Load(),
		FetchFailures:    c.stats.fetchFailures.Load(),
		Cancellations:    c.stats.cancellations.Load(),

		Batches:        c.stats.batches.Load(),
		BatchesFailed:  c.stats.batchesFailed.Load(),
		ChunksWritten:  c.stats.chunksWritten.Load(),
		ChunksFailed:   c.stats.chunksFailed.Load(),
		RecordsWritten: c.stats.recordsWritten.Load(),
		RecordsSkipped: c.stats.recordsSkipped.Load(),

		Swept:   c.stats.swept.Load(),
		Tracker: c.tracker.Stats(),
		Latency: c.lat.All(),
	}
	counts := c.store.Counts()
	for _, k := range Kinds {
		s.Entries[k.String()] = counts[k]
	}
	if ns := c.stats.lastSweep.Load(); ns != 0 {
		s.LastSweep = time.Unix(0, ns)
	}
	return s
}

// TotalEntries sums Entries.
func (s Stats) TotalEntries() int {
	n := 0
	for _, v := range s.Entries {
		n += v
	}
	return n
}

// Map returns s as a flat map, handy for logging and JSON status pages.
func (s Stats) Map() map[string]any {
	lat := make(map[string]any, len(s.Latency))
	for _, l := range s.Latency {
		lat[l.Operation] = l
	}
	return map[string]any{
		"entries":          s.Entries,
		"totalEntries":     s.TotalEntries(),
		"hits":             s.Hits,
		"misses":           s.Misses,
		"derived":          s.Derived,
		"refreshes":        s.Refreshes,
		"refreshesSkipped": s.RefreshesSkipped,
		"refreshesDropped": s.RefreshesDropped,
		"refreshFailures":  s.RefreshFailures,
		"fetchFailures":    s.FetchFailures,
		"cancellations":    s.Cancellations,
		"batches":          s.Batches,
		"batchesFailed":    s.BatchesFailed,
		"chunksWritten":    s.ChunksWritten,
		"chunksFailed":     s.ChunksFailed,
		"recordsWritten":   s.RecordsWritten,
		"recordsSkipped":   s.RecordsSkipped,
		"swept":            s.Swept,
		"lastSweep":        s.LastSweep,
		"tracker":          s.Tracker,
		"latency":          lat,
	}
}
