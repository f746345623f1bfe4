// Package asynchook moves picksync hook calls off the cache's hot paths.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    DuplicateEvery: 10, // sample: ~every 10th duplicate-query flag
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := picksync.New(picksync.Options{
//	    Source: src,
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
//
// Events that find the queue full are dropped and counted.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/picksync"
)

type Hooks struct {
	inner picksync.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ picksync.Hooks = (*Hooks)(nil)

func New(inner picksync.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = picksync.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for the queued ones.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded on a full queue or after Close.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) RefreshFailed(k string, err error) { h.try(func() { h.inner.RefreshFailed(k, err) }) }
func (h *Hooks) FetchFailed(k string, err error)   { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) ChunkFailed(err *picksync.ChunkError) {
	h.try(func() { h.inner.ChunkFailed(err) })
}
func (h *Hooks) DuplicateQuery(op, k string, since time.Duration, n int) {
	h.try(func() { h.inner.DuplicateQuery(op, k, since, n) })
}
func (h *Hooks) Swept(entries, gens int)           { h.try(func() { h.inner.Swept(entries, gens) }) }
func (h *Hooks) PersistFailed(k string, err error) { h.try(func() { h.inner.PersistFailed(k, err) }) }
func (h *Hooks) PersistDropped(k string)           { h.try(func() { h.inner.PersistDropped(k) }) }
