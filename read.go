package picksync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/picksync/genstore"
	"github.com/unkn0wn-root/picksync/internal/latency"
	"github.com/unkn0wn-root/picksync/internal/util"
)

// source calls, timed per operation

func (c *cache) fetchPicklistNumbers(ctx context.Context) (Value, error) {
	ids, err := latency.Time(c.lat, "fetch_picklists", func() ([]string, error) {
		return c.src.FetchPicklistNumbers(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch picklists: %w", err)
	}
	return PicklistNumbers(ids), nil
}

func (c *cache) fetchItems(picklist string) fetchFunc {
	return func(ctx context.Context) (Value, error) {
		items, err := latency.Time(c.lat, "fetch_items", func() ([]PickItem, error) {
			return c.src.FetchItems(ctx, picklist)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch items %s: %w", picklist, err)
		}
		return Items(items), nil
	}
}

func (c *cache) fetchTags(picklist string) fetchFunc {
	return func(ctx context.Context) (Value, error) {
		tags, err := latency.Time(c.lat, "fetch_tags", func() ([]string, error) {
			return c.src.FetchProcessedTags(ctx, picklist)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch tags %s: %w", picklist, err)
		}
		return ProcessedTags(tags), nil
	}
}

// itemsStored keeps a cached status in step with the items it derives from.
func (c *cache) itemsStored(picklist string) func(Value) {
	return func(v Value) {
		c.store.Replace(StatusKey(picklist), DeriveStatus(picklist, v.(Items)))
	}
}

func (c *cache) GetPicklistNumbers(ctx context.Context) []string {
	v, ok := c.read(ctx, "getPicklistNumbers", AllPicklistsKey(), c.fetchPicklistNumbers, nil)
	if !ok {
		return []string{}
	}
	return orEmpty(v.(PicklistNumbers))
}

func (c *cache) GetItems(ctx context.Context, picklist string) []PickItem {
	return c.items(ctx, "getItems", picklist)
}

func (c *cache) items(ctx context.Context, op, picklist string) []PickItem {
	v, ok := c.read(ctx, op, ItemsKey(picklist), c.fetchItems(picklist), c.itemsStored(picklist))
	if !ok {
		return []PickItem{}
	}
	return orEmpty(v.(Items))
}

func (c *cache) GetProcessedTags(ctx context.Context, picklist string) []string {
	return c.tags(ctx, "getProcessedTags", picklist)
}

func (c *cache) tags(ctx context.Context, op, picklist string) []string {
	v, ok := c.read(ctx, op, TagsKey(picklist), c.fetchTags(picklist), nil)
	if !ok {
		return []string{}
	}
	return orEmpty(v.(ProcessedTags))
}

// GetItemsAndTags fetches both views of one picklist concurrently.
func (c *cache) GetItemsAndTags(ctx context.Context, picklist string) ([]PickItem, []string) {
	c.tracker.Record("getItemsAndTags", picklist)
	var (
		items []PickItem
		tags  []string
		g     errgroup.Group
	)
	g.Go(func() error {
		items = c.items(ctx, "", picklist)
		return nil
	})
	g.Go(func() error {
		tags = c.tags(ctx, "", picklist)
		return nil
	})
	_ = g.Wait()
	return items, tags
}

// GetStatus serves a cached status, else derives it from cached items without
// a source call, else loads items. A cached status refreshes through its items.
func (c *cache) GetStatus(ctx context.Context, picklist string) PicklistStatus {
	c.tracker.Record("getStatus", StatusKey(picklist).String())
	if st, ok := c.cachedStatus(picklist); ok {
		return st
	}

	c.stats.misses.Add(1)
	obs := c.store.SnapshotGen(StatusKey(picklist))
	v, ok := c.load(ctx, ItemsKey(picklist), c.fetchItems(picklist))
	if !ok {
		return PicklistStatus{Picklist: picklist}
	}
	st := DeriveStatus(picklist, v.(Items))
	c.store.Merge(StatusKey(picklist), st, obs)
	return st
}

// cachedStatus answers from the store alone: the status entry itself, or one
// derived from the items entry.
func (c *cache) cachedStatus(picklist string) (PicklistStatus, bool) {
	skey, ikey := StatusKey(picklist), ItemsKey(picklist)
	if e, ok := c.store.Get(skey); ok {
		c.stats.hits.Add(1)
		c.refresh(ikey, c.fetchItems(picklist), c.itemsStored(picklist))
		return e.Value.(PicklistStatus), true
	}
	obs := c.store.SnapshotGen(skey)
	if e, ok := c.store.Get(ikey); ok {
		c.stats.derived.Add(1)
		st := DeriveStatus(picklist, e.Value.(Items))
		c.store.Merge(skey, st, obs)
		return st, true
	}
	return PicklistStatus{}, false
}

// GetItemsBatch returns items for every distinct picklist. Cached ones are
// served immediately; the rest are loaded concurrently. A picklist whose load
// failed maps to an empty slice.
func (c *cache) GetItemsBatch(ctx context.Context, picklists []string) map[string][]PickItem {
	picklists = dedupe(cloneSlice(picklists))
	c.tracker.Record("getItemsBatch", util.SetKey(picklists))

	out := make(map[string][]PickItem, len(picklists))
	var uncached []string
	for _, p := range picklists {
		key := ItemsKey(p)
		if e, ok := c.store.Get(key); ok {
			c.stats.hits.Add(1)
			out[p] = orEmpty(e.Value.(Items))
			c.refresh(key, c.fetchItems(p), c.itemsStored(p))
			continue
		}
		uncached = append(uncached, p)
	}
	c.stats.misses.Add(uint64(len(uncached)))

	loaded := c.loadAll(ctx, uncached)
	for i, p := range uncached {
		if loaded[i] == nil {
			out[p] = []PickItem{}
			continue
		}
		items := loaded[i].(Items)
		c.itemsStored(p)(items)
		out[p] = orEmpty(items)
	}
	return out
}

// GetAllStatuses returns the status of every distinct picklist, loading items
// only for picklists with neither a cached status nor cached items.
func (c *cache) GetAllStatuses(ctx context.Context, picklists []string) map[string]PicklistStatus {
	picklists = dedupe(cloneSlice(picklists))
	c.tracker.Record("getAllStatuses", util.SetKey(picklists))

	out := make(map[string]PicklistStatus, len(picklists))
	var uncached []string
	for _, p := range picklists {
		if st, ok := c.cachedStatus(p); ok {
			out[p] = st
			continue
		}
		uncached = append(uncached, p)
	}
	c.stats.misses.Add(uint64(len(uncached)))

	obs := make([]genstore.Gen, len(uncached))
	for i, p := range uncached {
		obs[i] = c.store.SnapshotGen(StatusKey(p))
	}
	loaded := c.loadAll(ctx, uncached)
	for i, p := range uncached {
		if loaded[i] == nil {
			out[p] = PicklistStatus{Picklist: p}
			continue
		}
		st := DeriveStatus(p, loaded[i].(Items))
		c.store.Merge(StatusKey(p), st, obs[i])
		out[p] = st
	}
	return out
}

// loadAll runs the miss path for the items of every picklist, at most
// MaxFanOut at a time. Failed loads leave a nil slot.
func (c *cache) loadAll(ctx context.Context, picklists []string) []Value {
	out := make([]Value, len(picklists))
	if len(picklists) == 0 {
		return out
	}
	var g errgroup.Group
	if c.maxFanOut > 0 {
		g.SetLimit(c.maxFanOut)
	}
	for i, p := range picklists {
		g.Go(func() error {
			if v, ok := c.load(ctx, ItemsKey(p), c.fetchItems(p)); ok {
				out[i] = v
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// orEmpty turns a nil slice into an empty one so callers never see nil.
func orEmpty[S ~[]E, E any](s S) []E {
	if s == nil {
		return []E{}
	}
	return s
}
