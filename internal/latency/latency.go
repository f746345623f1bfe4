// Package latency keeps per-operation latency quantiles for data source calls.
package latency

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Tracker tracks latency quantiles using DDSketch.
type Tracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	errors           map[string]int64
	relativeAccuracy float64
}

// New creates a tracker. relativeAccuracy determines the accuracy of quantile
// estimates (e.g. 0.01 = 1%).
func New(relativeAccuracy float64) *Tracker {
	return &Tracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		errors:           make(map[string]int64),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a duration for op.
func (t *Tracker) Record(op string, d time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sketch, ok := t.sketches[op]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(t.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(t.relativeAccuracy)
		}
		t.sketches[op] = sketch
	}
	// milliseconds
	_ = sketch.Add(float64(d.Microseconds()) / 1000.0)
	if failed {
		t.errors[op]++
	}
}

// Time runs fn and records its duration under op.
func Time[T any](t *Tracker, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	t.Record(op, time.Since(start), err != nil)
	return v, err
}

// Stats summarises one operation. Durations are in milliseconds.
type Stats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Errors    int64   `json:"errors"`
	Min       float64 `json:"minMs"`
	P50       float64 `json:"p50Ms"`
	P90       float64 `json:"p90Ms"`
	P99       float64 `json:"p99Ms"`
	Max       float64 `json:"maxMs"`
}

// Get returns statistics for op.
func (t *Tracker) Get(op string) (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked(op)
}

// All returns statistics for every tracked operation, sorted by name.
func (t *Tracker) All() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Stats, 0, len(t.sketches))
	for op := range t.sketches {
		if s, err := t.statsLocked(op); err == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func (t *Tracker) statsLocked(op string) (Stats, error) {
	sketch, ok := t.sketches[op]
	if !ok {
		return Stats{}, fmt.Errorf("no data for operation: %s", op)
	}
	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: op}, nil
	}
	minV, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	maxV, _ := sketch.GetMaxValue()
	return Stats{
		Operation: op,
		Count:     int64(count),
		Errors:    t.errors[op],
		Min:       minV,
		P50:       p50,
		P90:       p90,
		P99:       p99,
		Max:       maxV,
	}, nil
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Operation)
	}
	return fmt.Sprintf("  %s (n=%d, err=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Errors, s.Min, s.P50, s.P90, s.P99, s.Max)
}
