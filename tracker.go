package picksync

import (
	"sort"
	"sync"
	"time"
)

// FlagReason says why a call was flagged.
type FlagReason string

const (
	FlagRapid    FlagReason = "rapid"    // repeated within RapidThreshold
	FlagFrequent FlagReason = "frequent" // count crossed FrequencyThreshold
)

// Flag describes one flagged call.
type Flag struct {
	Op        string
	Key       string
	Reason    FlagReason
	SinceLast time.Duration
	Count     int
}

// TrackerOptions tune a QueryTracker. Zero values get defaults.
type TrackerOptions struct {
	RapidThreshold     time.Duration // 0 => 1s
	FrequencyThreshold int           // 0 => 10
	RecentWindow       time.Duration // 0 => 30s
	TopN               int           // 0 => 5
	Now                func() time.Time
	OnFlag             func(Flag) // called outside the tracker lock
}

// CallCount is one (operation, key) pair with its call count.
type CallCount struct {
	Op       string    `json:"op"`
	Key      string    `json:"key"`
	Count    int       `json:"count"`
	LastCall time.Time `json:"lastCall"`
}

// TrackerStats is a snapshot of a QueryTracker.
type TrackerStats struct {
	TotalCalls        int         `json:"totalCalls"`
	UniqueOperations  int         `json:"uniqueOperations"`
	MostFrequent      []CallCount `json:"mostFrequent"`
	RecentlyActive    []CallCount `json:"recentlyActive"`
	FlaggedDuplicates int         `json:"flaggedDuplicates"`
}

type callID struct{ op, key string }

type callStat struct {
	count int
	last  time.Time
}

// QueryTracker records how often and how quickly each (operation, key) pair is
// called. It is purely observational; it never changes what the caller does.
type QueryTracker struct {
	opts TrackerOptions

	mu      sync.Mutex
	calls   map[callID]*callStat
	total   int
	flagged int
}

func NewQueryTracker(opts TrackerOptions) *QueryTracker {
	opts.RapidThreshold = coalesce(opts.RapidThreshold, time.Second)
	opts.FrequencyThreshold = coalesce(opts.FrequencyThreshold, 10)
	opts.RecentWindow = coalesce(opts.RecentWindow, 30*time.Second)
	opts.TopN = coalesce(opts.TopN, 5)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &QueryTracker{opts: opts, calls: make(map[callID]*callStat)}
}

// Record counts one call of op for key.
func (t *QueryTracker) Record(op, key string) {
	now := t.opts.Now()
	var flag *Flag

	t.mu.Lock()
	id := callID{op, key}
	st, ok := t.calls[id]
	if !ok {
		st = &callStat{}
		t.calls[id] = st
	}
	var since time.Duration
	if st.count > 0 {
		since = now.Sub(st.last)
	}
	st.count++
	st.last = now
	t.total++

	threshold := t.opts.FrequencyThreshold
	switch {
	case st.count > 1 && since < t.opts.RapidThreshold:
		flag = &Flag{Op: op, Key: key, Reason: FlagRapid, SinceLast: since, Count: st.count}
	case st.count > threshold && (st.count-threshold-1)%threshold == 0:
		flag = &Flag{Op: op, Key: key, Reason: FlagFrequent, SinceLast: since, Count: st.count}
	}
	if flag != nil {
		t.flagged++
	}
	t.mu.Unlock()

	if flag != nil && t.opts.OnFlag != nil {
		t.opts.OnFlag(*flag)
	}
}

// Stats returns a snapshot. MostFrequent is ordered by count, RecentlyActive by
// recency; both hold at most TopN pairs.
func (t *QueryTracker) Stats() TrackerStats {
	now := t.opts.Now()

	t.mu.Lock()
	all := make([]CallCount, 0, len(t.calls))
	for id, st := range t.calls {
		all = append(all, CallCount{Op: id.op, Key: id.key, Count: st.count, LastCall: st.last})
	}
	out := TrackerStats{
		TotalCalls:        t.total,
		UniqueOperations:  len(t.calls),
		FlaggedDuplicates: t.flagged,
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		if all[i].Op != all[j].Op {
			return all[i].Op < all[j].Op
		}
		return all[i].Key < all[j].Key
	})
	out.MostFrequent = append([]CallCount(nil), all[:min(len(all), t.opts.TopN)]...)

	recent := make([]CallCount, 0, len(all))
	for _, c := range all {
		if now.Sub(c.LastCall) <= t.opts.RecentWindow {
			recent = append(recent, c)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].LastCall.After(recent[j].LastCall) })
	out.RecentlyActive = recent[:min(len(recent), t.opts.TopN)]
	return out
}

// Prune forgets pairs not called within idle and returns how many were dropped.
// Totals are kept.
func (t *QueryTracker) Prune(idle time.Duration) int {
	cutoff := t.opts.Now().Add(-idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, st := range t.calls {
		if st.last.Before(cutoff) {
			delete(t.calls, id)
			removed++
		}
	}
	return removed
}

// Reset clears every counter.
func (t *QueryTracker) Reset() {
	t.mu.Lock()
	clear(t.calls)
	t.total, t.flagged = 0, 0
	t.mu.Unlock()
}
