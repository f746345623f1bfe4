package picksync

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// memPersister records persister calls in memory.
type memPersister struct {
	mu      sync.Mutex
	saved   map[Key]Entry
	deletes int
	wiped   int
}

var _ Persister = (*memPersister)(nil)

func newMemPersister() *memPersister { return &memPersister{saved: make(map[Key]Entry)} }

func (p *memPersister) Save(k Key, e Entry) {
	p.mu.Lock()
	p.saved[k] = e
	p.mu.Unlock()
}

func (p *memPersister) Delete(k Key) {
	p.mu.Lock()
	delete(p.saved, k)
	p.deletes++
	p.mu.Unlock()
}

func (p *memPersister) DeleteAll() {
	p.mu.Lock()
	clear(p.saved)
	p.wiped++
	p.mu.Unlock()
}

func (p *memPersister) Load(_ context.Context, k Key) (Entry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.saved[k]
	return e, ok, nil
}

func (p *memPersister) Close(context.Context) error { return nil }

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore(StoreOptions{})
	_ = s.Set(TagsKey("p"), ProcessedTags{"a"})

	e, _ := s.Get(TagsKey("p"))
	e.Value.(ProcessedTags)[0] = "mutated"

	e2, _ := s.Get(TagsKey("p"))
	if e2.Value.(ProcessedTags)[0] != "a" {
		t.Fatalf("store leaked its backing slice")
	}
}

func TestStoreSetKindMismatch(t *testing.T) {
	s := NewStore(StoreOptions{})
	if err := s.Set(ItemsKey("p"), ProcessedTags{"a"}); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("err=%v want ErrKindMismatch", err)
	}
	if err := s.Union(ItemsKey("p"), []string{"a"}); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Union on items: err=%v want ErrKindMismatch", err)
	}
}

func TestStoreTTL(t *testing.T) {
	clk := newFakeClock()
	s := NewStore(StoreOptions{
		DefaultTTL: time.Minute,
		TTLs:       map[Kind]time.Duration{KindAllPicklists: -1},
		Now:        clk.Now,
	})
	_ = s.Set(ItemsKey("p"), Items{})
	_ = s.Set(AllPicklistsKey(), PicklistNumbers{"p"})

	clk.Advance(time.Minute)
	if _, ok := s.Get(ItemsKey("p")); ok {
		t.Fatalf("expired entry served")
	}
	if _, ok := s.Get(AllPicklistsKey()); !ok {
		t.Fatalf("negative TTL should never expire")
	}
	if s.Len() != 2 {
		t.Fatalf("expired entries stay until swept, len=%d", s.Len())
	}
	if n := s.SweepExpired(clk.Now()); n != 1 || s.Len() != 1 {
		t.Fatalf("sweep removed %d, len=%d", n, s.Len())
	}
}

func TestStoreMergeRespectsGeneration(t *testing.T) {
	s := NewStore(StoreOptions{})
	k := TagsKey("p")

	obs := s.SnapshotGen(k)
	if _, ok := s.Merge(k, ProcessedTags{"a"}, obs); !ok {
		t.Fatalf("first merge should apply")
	}
	stale := s.SnapshotGen(k)
	s.Invalidate(k)
	if _, ok := s.Merge(k, ProcessedTags{"b"}, stale); ok {
		t.Fatalf("merge with a pre-invalidation generation applied")
	}
	if _, ok := s.Get(k); ok {
		t.Fatalf("entry resurrected")
	}

	obs = s.SnapshotGen(k)
	s.InvalidateAll()
	if _, ok := s.Merge(k, ProcessedTags{"c"}, obs); ok {
		t.Fatalf("merge across InvalidateAll applied")
	}
}

// TestStoreUnionCommutesWithMerge: a union during a refresh is kept by the
// refresh's write-back.
func TestStoreUnionCommutesWithMerge(t *testing.T) {
	s := NewStore(StoreOptions{})
	k := TagsKey("p")
	_ = s.Set(k, ProcessedTags{"T0"})

	obs := s.SnapshotGen(k)
	if err := s.Union(k, []string{"T9"}); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Merge(k, ProcessedTags{"T0", "T1"}, obs)
	if !ok {
		t.Fatalf("union must not move the generation")
	}
	tags := slices.Clone(got.(ProcessedTags))
	slices.Sort(tags)
	if !slices.Equal(tags, []string{"T0", "T1", "T9"}) {
		t.Fatalf("tags=%v", tags)
	}
}

func TestStoreReplaceOnlyLive(t *testing.T) {
	s := NewStore(StoreOptions{})
	k := StatusKey("p")
	if s.Replace(k, PicklistStatus{Total: 1}) {
		t.Fatalf("Replace created an absent entry")
	}
	_ = s.Set(k, PicklistStatus{Total: 1})
	if !s.Replace(k, PicklistStatus{Total: 2}) {
		t.Fatalf("Replace of a live entry failed")
	}
	e, _ := s.Get(k)
	if e.Value.(PicklistStatus).Total != 2 {
		t.Fatalf("Replace not applied: %+v", e.Value)
	}
}

func TestStoreInstall(t *testing.T) {
	clk := newFakeClock()
	s := NewStore(StoreOptions{Now: clk.Now})
	k := TagsKey("p")

	snap := Entry{Value: ProcessedTags{"a", "a"}, UpdatedAt: clk.Now(), TTL: time.Hour}
	if !s.Install(k, snap) {
		t.Fatalf("install into empty store failed")
	}
	if e, _ := s.Get(k); len(e.Value.(ProcessedTags)) != 1 {
		t.Fatalf("installed value not normalized: %v", e.Value)
	}
	if s.Install(k, snap) {
		t.Fatalf("install overwrote a live entry")
	}
	old := Entry{Value: ProcessedTags{"b"}, UpdatedAt: clk.Now().Add(-2 * time.Hour), TTL: time.Hour}
	if s.Install(TagsKey("q"), old) {
		t.Fatalf("expired snapshot installed")
	}
	if s.Install(ItemsKey("q"), snap) {
		t.Fatalf("kind mismatch installed")
	}
}

func TestStorePersisterMirrorsMutations(t *testing.T) {
	p := newMemPersister()
	s := NewStore(StoreOptions{Persister: p})

	_ = s.Set(ItemsKey("p"), Items{})
	_ = s.Union(TagsKey("p"), []string{"T1"})
	if len(p.saved) != 2 {
		t.Fatalf("saved=%d want 2", len(p.saved))
	}
	s.Invalidate(ItemsKey("p"))
	if _, ok := p.saved[ItemsKey("p")]; ok || p.deletes != 1 {
		t.Fatalf("delete not mirrored")
	}
	s.InvalidateAll()
	if p.wiped != 1 || len(p.saved) != 0 {
		t.Fatalf("wipe not mirrored")
	}
}

// TestWarmInstallsSnapshots: a second cache over the same persister starts warm.
func TestWarmInstallsSnapshots(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	src := newFakeSource()
	src.picklists = []string{"PL-001"}
	src.setItems("PL-001", plItems())
	src.tags["PL-001"] = []string{"T1"}

	first := newTestCache(t, src, func(o *Options) { o.Persister = p })
	first.GetPicklistNumbers(ctx)
	first.GetItemsAndTags(ctx, "PL-001")
	first.GetStatus(ctx, "PL-001")

	second := newTestCache(t, src, func(o *Options) { o.Persister = p })
	n, err := second.Warm(ctx)
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if n != 4 {
		t.Fatalf("warmed %d entries want 4", n)
	}
	calls := src.count("items")
	if got := second.GetItems(ctx, "PL-001"); len(got) != 2 {
		t.Fatalf("warm items=%v", got)
	}
	second.bgWG.Wait()
	if src.count("items") != calls+1 {
		t.Fatalf("warm read should be a hit with one refresh")
	}
}
