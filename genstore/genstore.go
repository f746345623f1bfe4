// Package genstore keeps per-key generation counters for compare-and-swap
// write-back. A writer snapshots the generation before a slow source call and
// applies its result only if the generation is unchanged afterwards.
package genstore

import (
	"sync"
	"time"
)

// Gen is an observed generation. Epoch moves on BumpAll, N on Bump.
// Missing keys observe N=0.
type Gen struct {
	Epoch uint64
	N     uint64
}

type entry struct {
	n         uint64
	updatedAt time.Time
}

// Local keeps generations in-process. It never blocks on I/O, so callers may
// use it while holding their own locks.
type Local struct {
	mu    sync.RWMutex
	epoch uint64
	gens  map[string]entry
	now   func() time.Time
}

// NewLocal returns an empty store. now defaults to time.Now.
func NewLocal(now func() time.Time) *Local {
	if now == nil {
		now = time.Now
	}
	return &Local{gens: make(map[string]entry), now: now}
}

func (s *Local) Snapshot(k string) Gen {
	s.mu.RLock()
	g := Gen{Epoch: s.epoch, N: s.gens[k].n}
	s.mu.RUnlock()
	return g
}

// Bump increments the generation of k and returns the new value.
func (s *Local) Bump(k string) Gen {
	s.mu.Lock()
	e := s.gens[k]
	e.n++
	e.updatedAt = s.now()
	s.gens[k] = e
	g := Gen{Epoch: s.epoch, N: e.n}
	s.mu.Unlock()
	return g
}

// BumpAll invalidates every observed generation at once.
func (s *Local) BumpAll() Gen {
	s.mu.Lock()
	s.epoch++
	g := Gen{Epoch: s.epoch}
	s.mu.Unlock()
	return g
}

// Cleanup drops counters not bumped within retention and returns how many
// were removed. A dropped counter reads as 0 again, so retention must exceed
// the longest time a writer may hold an observed generation.
func (s *Local) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.gens {
		if e.updatedAt.Before(cutoff) {
			delete(s.gens, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked counters.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}
