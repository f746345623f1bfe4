package picksync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/picksync/internal/latency"
)

type counters struct {
	hits             atomic.Uint64
	misses           atomic.Uint64
	derived          atomic.Uint64
	refreshes        atomic.Uint64
	refreshesSkipped atomic.Uint64
	refreshesDropped atomic.Uint64
	refreshFailures  atomic.Uint64
	fetchFailures    atomic.Uint64
	cancellations    atomic.Uint64

	batches        atomic.Uint64
	batchesFailed  atomic.Uint64
	chunksWritten  atomic.Uint64
	chunksFailed   atomic.Uint64
	recordsWritten atomic.Uint64
	recordsSkipped atomic.Uint64

	swept     atomic.Uint64
	lastSweep atomic.Int64 // unix nanos
}

type cache struct {
	src     DataSource
	store   *Store
	log     Logger
	hooks   Hooks
	tracker *QueryTracker
	lat     *latency.Tracker
	persist Persister
	now     func() time.Time

	chunkSize      int
	maxFanOut      int
	refreshTimeout time.Duration
	genRetention   time.Duration
	sweepInterval  time.Duration

	// concurrent misses for one key share a fetch
	flight singleflight.Group

	// background refreshes; bounded by the cache lifetime
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	bgWG     sync.WaitGroup
	inflight map[Key]struct{}
	closed   bool

	// cleanup loop
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once

	stats counters
}

func newCache(opts Options) (*cache, error) {
	if opts.Source == nil {
		return nil, ErrSourceRequired
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &cache{
		src:      opts.Source,
		persist:  opts.Persister,
		now:      now,
		lat:      latency.New(0.01),
		inflight: make(map[Key]struct{}),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.chunkSize = coalesce(opts.ChunkSize, defaultChunkSize)
	c.maxFanOut = max(opts.MaxFanOut, 0)
	c.refreshTimeout = coalesce(opts.RefreshTimeout, defaultRefreshTimeout)
	c.genRetention = coalesce(opts.GenRetention, defaultGenRetention)
	c.sweepInterval = coalesce(opts.CleanupInterval, defaultCleanupInterval)

	if opts.Tracker != nil {
		c.tracker = opts.Tracker
	} else {
		c.tracker = NewQueryTracker(TrackerOptions{Now: now, OnFlag: c.onFlag})
	}

	c.store = NewStore(StoreOptions{
		DefaultTTL: opts.DefaultTTL,
		TTLs:       opts.TTLs,
		Now:        now,
		Persister:  opts.Persister,
	})

	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	if c.sweepInterval > 0 {
		c.ticker = time.NewTicker(c.sweepInterval)
		c.stopCh = make(chan struct{})
		c.closeWg.Add(1)
		go c.cleanupLoop()
	}
	return c, nil
}

func (c *cache) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.bgMu.Lock()
		c.closed = true
		c.bgMu.Unlock()
		c.bgCancel()

		done := make(chan struct{})
		go func() {
			c.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		if c.stopCh != nil {
			close(c.stopCh)
			c.closeWg.Wait()
			c.ticker.Stop()
		}
		if c.persist != nil {
			err = errors.Join(err, c.persist.Close(ctx))
		}
	})
	return err
}

type fetchFunc func(ctx context.Context) (Value, error)

// refresh schedules a background re-fetch of key and merges the result back,
// unless the cache is closed or a refresh of key is already running.
// after, when set, runs with the stored value once the write-back applied.
func (c *cache) refresh(key Key, fetch fetchFunc, after func(Value)) {
	obs := c.store.SnapshotGen(key)

	c.bgMu.Lock()
	if c.closed {
		c.bgMu.Unlock()
		return
	}
	if _, busy := c.inflight[key]; busy {
		c.bgMu.Unlock()
		c.stats.refreshesSkipped.Add(1)
		return
	}
	c.inflight[key] = struct{}{}
	c.bgWG.Add(1)
	c.bgMu.Unlock()
	c.stats.refreshes.Add(1)

	go func() {
		defer c.bgWG.Done()
		defer func() {
			c.bgMu.Lock()
			delete(c.inflight, key)
			c.bgMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(c.bgCtx, c.refreshTimeout)
		defer cancel()

		fresh, err := fetch(ctx)
		if err != nil {
			if c.bgCtx.Err() != nil {
				c.stats.cancellations.Add(1)
				return
			}
			c.stats.refreshFailures.Add(1)
			c.log.Warn("background refresh failed", Fields{"key": key.String(), "err": err})
			c.hooks.RefreshFailed(key.String(), err)
			return
		}
		stored, ok := c.store.Merge(key, fresh, obs)
		if !ok {
			c.stats.refreshesDropped.Add(1)
			c.log.Debug("refresh dropped (key invalidated meanwhile)", Fields{"key": key.String()})
			return
		}
		if after != nil {
			after(stored)
		}
	}()
}

// load is the miss path: fetch synchronously, store, return. Concurrent loads
// of one key share a single source call, which runs detached from any one
// caller; a caller whose ctx ends stops waiting without failing the others.
func (c *cache) load(ctx context.Context, key Key, fetch fetchFunc) (Value, bool) {
	ch := c.flight.DoChan(key.String(), func() (any, error) {
		if !c.track() {
			return nil, ErrClosed
		}
		defer c.bgWG.Done()

		fctx, cancel := c.detach(ctx)
		defer cancel()

		obs := c.store.SnapshotGen(key)
		fresh, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if stored, ok := c.store.Merge(key, fresh, obs); ok {
			return stored, nil
		}
		// invalidated while fetching; the caller still gets what it asked for
		return fresh, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			c.readFailed(key, r.Err)
			return nil, false
		}
		if r.Shared {
			c.log.Debug("miss fetch shared", Fields{"key": key.String()})
		}
		return r.Val.(Value).clone(), true
	case <-ctx.Done():
		c.readFailed(key, ctx.Err())
		return nil, false
	}
}

// track registers a background task with Close. It reports false once the
// cache is closed.
func (c *cache) track() bool {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closed {
		return false
	}
	c.bgWG.Add(1)
	return true
}

func (c *cache) isClosed() bool {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	return c.closed
}

// detach keeps ctx's values but not its cancellation. The result ends with the
// cache or after refreshTimeout.
func (c *cache) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	stop := context.AfterFunc(c.bgCtx, cancel)
	return fctx, func() {
		stop()
		cancel()
	}
}

func (c *cache) readFailed(key Key, err error) {
	if isCancel(err) || errors.Is(err, ErrClosed) {
		c.stats.cancellations.Add(1)
		c.log.Debug("fetch cancelled", Fields{"key": key.String(), "err": err})
		return
	}
	c.stats.fetchFailures.Add(1)
	c.log.Warn("fetch failed; returning empty result", Fields{"key": key.String(), "err": err})
	c.hooks.FetchFailed(key.String(), err)
}

// read is the stale-while-revalidate path shared by every single-key read.
// An empty op skips the query tracker (combined reads record once).
func (c *cache) read(ctx context.Context, op string, key Key, fetch fetchFunc, after func(Value)) (Value, bool) {
	if op != "" {
		c.tracker.Record(op, key.String())
	}
	if e, ok := c.store.Get(key); ok {
		c.stats.hits.Add(1)
		c.refresh(key, fetch, after)
		return e.Value, true
	}
	c.stats.misses.Add(1)
	v, ok := c.load(ctx, key, fetch)
	if ok && after != nil {
		after(v)
	}
	return v, ok
}

func (c *cache) onFlag(f Flag) {
	c.log.Warn("duplicate query", Fields{
		"op":        f.Op,
		"key":       f.Key,
		"reason":    string(f.Reason),
		"sinceLast": f.SinceLast.String(),
		"count":     f.Count,
	})
	c.hooks.DuplicateQuery(f.Op, f.Key, f.SinceLast, f.Count)
}

func (c *cache) Invalidate(picklist string) {
	c.store.Invalidate(picklistKeys(picklist)...)
	c.log.Debug("invalidated picklist", Fields{"picklist": picklist})
}

func (c *cache) InvalidateAll() {
	c.store.InvalidateAll()
	c.log.Info("invalidated all entries", nil)
}

// CleanupExpired sweeps expired entries, prunes idle generations and tracker
// pairs, and returns the number of entries removed.
func (c *cache) CleanupExpired() int {
	now := c.now()
	n := c.store.SweepExpired(now)
	g := c.store.PruneGens(c.genRetention)
	if c.genRetention > 0 {
		c.tracker.Prune(c.genRetention)
	}

	c.stats.swept.Add(uint64(n))
	c.stats.lastSweep.Store(now.UnixNano())
	c.hooks.Swept(n, g)
	if n > 0 || g > 0 {
		c.log.Debug("cleanup removed stale entries", Fields{"entries": n, "gens": g})
	}
	return n
}

func (c *cache) cleanupLoop() {
	defer c.closeWg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.CleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

// Warm installs snapshots from the persister into an empty cache: the
// picklist list first, then every per-picklist key it names. It returns the
// number of entries installed.
func (c *cache) Warm(ctx context.Context) (int, error) {
	if c.persist == nil {
		return 0, nil
	}
	installed := 0
	var errs []error
	install := func(k Key) (Entry, bool) {
		e, ok, err := c.persist.Load(ctx, k)
		if err != nil {
			errs = append(errs, err)
			c.log.Warn("warm load failed", Fields{"key": k.String(), "err": err})
			return Entry{}, false
		}
		if ok && c.store.Install(k, e) {
			installed++
		}
		return e, ok
	}

	e, ok := install(AllPicklistsKey())
	if !ok {
		return installed, errors.Join(errs...)
	}
	for _, no := range e.Value.(PicklistNumbers) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		for _, k := range picklistKeys(no) {
			install(k)
		}
	}
	c.log.Info("cache warmed from snapshot", Fields{"entries": installed})
	return installed, errors.Join(errs...)
}
