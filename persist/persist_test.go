package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/picksync"
	"github.com/unkn0wn-root/picksync/codec"
	"github.com/unkn0wn-root/picksync/provider/memory"
)

func newTestPersister(t *testing.T, prov *memory.Provider, f codec.Format, optsOpt func(*Options)) *Persister {
	t.Helper()
	cs, err := NewCodecs(f, 0)
	if err != nil {
		t.Fatalf("NewCodecs: %v", err)
	}
	opts := Options{Provider: prov, Namespace: "test", Codecs: &cs}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	p, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func flush(t *testing.T, p *Persister) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestNewRequiresProvider(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err != ErrNilProvider {
		t.Fatalf("err=%v want ErrNilProvider", err)
	}
}

func TestSaveLoadEveryFormat(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 15, 0, 500, time.UTC)
	items := picksync.Items{
		{ID: "1", PicklistNo: "PL-1", ArticleID: "A", Size: "M", QtyPl: 4, QtyScan: 2, LastScanAt: at},
		{ID: "2", PicklistNo: "PL-1", ArticleID: "B", Size: "S", QtyPl: 1},
	}
	status := picksync.DeriveStatus("PL-1", items)

	for _, f := range []codec.Format{codec.FormatJSON, codec.FormatCBOR, codec.FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			prov := memory.New(nil)
			p := newTestPersister(t, prov, f, nil)

			p.Save(picksync.ItemsKey("PL-1"), picksync.Entry{Value: items, UpdatedAt: at, TTL: time.Hour})
			p.Save(picksync.StatusKey("PL-1"), picksync.Entry{Value: status, UpdatedAt: at, TTL: time.Hour})
			p.Save(picksync.TagsKey("PL-1"), picksync.Entry{Value: picksync.ProcessedTags{"T1"}, UpdatedAt: at})
			flush(t, p)

			e, ok, err := p.Load(ctx, picksync.ItemsKey("PL-1"))
			if err != nil || !ok {
				t.Fatalf("Load items: ok=%v err=%v", ok, err)
			}
			got := e.Value.(picksync.Items)
			if len(got) != 2 || got[0].QtyScan != 2 || !got[0].LastScanAt.Equal(at) {
				t.Fatalf("items=%+v", got)
			}
			if !e.UpdatedAt.Equal(at) || e.TTL != time.Hour {
				t.Fatalf("entry meta: %v %v", e.UpdatedAt, e.TTL)
			}

			e, ok, _ = p.Load(ctx, picksync.StatusKey("PL-1"))
			if !ok || e.Value.(picksync.PicklistStatus).Remaining != status.Remaining {
				t.Fatalf("status=%+v ok=%v", e.Value, ok)
			}
			e, ok, _ = p.Load(ctx, picksync.TagsKey("PL-1"))
			if !ok || e.TTL != 0 || len(e.Value.(picksync.ProcessedTags)) != 1 {
				t.Fatalf("tags=%+v ok=%v", e, ok)
			}
		})
	}
}

func TestDeleteAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(nil)
	p := newTestPersister(t, prov, codec.FormatJSON, nil)

	e := picksync.Entry{Value: picksync.ProcessedTags{"T1"}, UpdatedAt: time.Now()}
	p.Save(picksync.TagsKey("a"), e)
	p.Save(picksync.TagsKey("b"), e)
	p.Delete(picksync.TagsKey("a"))
	flush(t, p)

	if _, ok, _ := p.Load(ctx, picksync.TagsKey("a")); ok {
		t.Fatalf("deleted snapshot loaded")
	}
	if _, ok, _ := p.Load(ctx, picksync.TagsKey("b")); !ok {
		t.Fatalf("snapshot b missing")
	}

	p.DeleteAll()
	flush(t, p)
	if _, ok, _ := p.Load(ctx, picksync.TagsKey("b")); ok {
		t.Fatalf("snapshot survived DeleteAll")
	}
	if p.Epoch() != 1 {
		t.Fatalf("epoch=%d want 1", p.Epoch())
	}

	// a second process over the same provider starts in the new epoch
	p2 := newTestPersister(t, prov, codec.FormatJSON, nil)
	if p2.Epoch() != 1 {
		t.Fatalf("restarted epoch=%d want 1", p2.Epoch())
	}
}

func TestLoadSelfHeals(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(nil)
	p := newTestPersister(t, prov, codec.FormatJSON, nil)
	k := picksync.ItemsKey("PL-1")
	skey := p.entryKey(p.Epoch(), k)

	_, _ = prov.Set(ctx, skey, []byte("not-wire-format"), 0, 0)
	if _, ok, err := p.Load(ctx, k); ok || err != nil {
		t.Fatalf("corrupt load: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := prov.Get(ctx, skey); ok {
		t.Fatalf("corrupt snapshot not deleted")
	}

	// a snapshot written in another format is foreign to this persister
	p.Save(k, picksync.Entry{Value: picksync.Items{}, UpdatedAt: time.Now()})
	flush(t, p)
	pc := newTestPersister(t, prov, codec.FormatCBOR, nil)
	if _, ok, _ := pc.Load(ctx, k); ok {
		t.Fatalf("json snapshot decoded by a cbor persister")
	}
	if _, ok, _ := prov.Get(ctx, skey); ok {
		t.Fatalf("foreign snapshot not deleted")
	}
}

type blockingProvider struct {
	*memory.Provider
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Set(ctx context.Context, key string, v []byte, cost int64, ttl time.Duration) (bool, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Provider.Set(ctx, key, v, cost, ttl)
}

type dropHooks struct {
	picksync.NopHooks
	mu      sync.Mutex
	dropped []string
}

func (h *dropHooks) PersistDropped(key string) {
	h.mu.Lock()
	h.dropped = append(h.dropped, key)
	h.mu.Unlock()
}

func TestFullQueueDrops(t *testing.T) {
	bp := &blockingProvider{Provider: memory.New(nil), entered: make(chan struct{}, 4), release: make(chan struct{})}
	hooks := &dropHooks{}
	p, err := New(context.Background(), Options{Provider: bp, Workers: 1, QueueLen: 1, Hooks: hooks})
	if err != nil {
		t.Fatal(err)
	}

	e := picksync.Entry{Value: picksync.ProcessedTags{"T"}, UpdatedAt: time.Now()}
	p.Save(picksync.TagsKey("1"), e)
	// worker busy with the first save; the second fills the queue
	<-bp.entered
	p.Save(picksync.TagsKey("2"), e)
	p.Save(picksync.TagsKey("3"), e)

	hooks.mu.Lock()
	dropped := append([]string(nil), hooks.dropped...)
	hooks.mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "tags:3" {
		t.Fatalf("dropped=%v want [tags:3]", dropped)
	}

	close(bp.release)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Save(picksync.TagsKey("4"), e) // after Close: ignored, no panic
}

// TestCloseNotBlockedByFlush: a Flush waiting on a full queue does not hold
// off Close, and returns once Close has taken over the drain.
func TestCloseNotBlockedByFlush(t *testing.T) {
	bp := &blockingProvider{Provider: memory.New(nil), entered: make(chan struct{}, 4), release: make(chan struct{})}
	p, err := New(context.Background(), Options{Provider: bp, Workers: 1, QueueLen: 1})
	if err != nil {
		t.Fatal(err)
	}

	e := picksync.Entry{Value: picksync.ProcessedTags{"T"}, UpdatedAt: time.Now()}
	p.Save(picksync.TagsKey("1"), e)
	<-bp.entered
	p.Save(picksync.TagsKey("2"), e) // queue full

	flushErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		flushErr <- p.Flush(ctx)
	}()
	time.Sleep(20 * time.Millisecond) // Flush is retrying the full queue

	closeErr := make(chan error, 1)
	go func() { closeErr <- p.Close(context.Background()) }()

	select {
	case err := <-flushErr:
		if err != nil {
			t.Fatalf("Flush: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Flush still blocked after Close started")
	}

	close(bp.release)
	select {
	case err := <-closeErr:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not finish")
	}
}

// TestStoreRoundTrip: entries written through a Store come back through
// Install in a fresh Store.
func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	prov := memory.New(nil)
	p := newTestPersister(t, prov, codec.FormatMsgpack, nil)

	s1 := picksync.NewStore(picksync.StoreOptions{Persister: p})
	_ = s1.Set(picksync.AllPicklistsKey(), picksync.PicklistNumbers{"PL-1", "PL-2"})
	_ = s1.Union(picksync.TagsKey("PL-1"), []string{"T1", "T2"})
	flush(t, p)

	s2 := picksync.NewStore(picksync.StoreOptions{})
	for _, k := range []picksync.Key{picksync.AllPicklistsKey(), picksync.TagsKey("PL-1")} {
		e, ok, err := p.Load(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Load %s: ok=%v err=%v", k, ok, err)
		}
		if !s2.Install(k, e) {
			t.Fatalf("Install %s refused", k)
		}
	}
	e, ok := s2.Get(picksync.TagsKey("PL-1"))
	if !ok || len(e.Value.(picksync.ProcessedTags)) != 2 {
		t.Fatalf("round trip tags: %+v", e)
	}
}
