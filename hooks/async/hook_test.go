package asynchook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/picksync"
)

type countHooks struct {
	picksync.NopHooks
	mu    sync.Mutex
	calls []string
	gate  chan struct{}
}

func (c *countHooks) add(s string) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *countHooks) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *countHooks) RefreshFailed(k string, _ error)  { c.add("refresh:" + k) }
func (c *countHooks) FetchFailed(k string, _ error)    { c.add("fetch:" + k) }
func (c *countHooks) ChunkFailed(*picksync.ChunkError) { c.add("chunk") }
func (c *countHooks) Swept(int, int)                   { c.add("swept") }
func (c *countHooks) PersistFailed(k string, _ error)  { c.add("persist:" + k) }
func (c *countHooks) PersistDropped(k string)          { c.add("dropped:" + k) }
func (c *countHooks) DuplicateQuery(string, string, time.Duration, int) {
	c.add("dup")
}

func TestDeliversAllBeforeClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	h.RefreshFailed("items:1", errors.New("x"))
	h.FetchFailed("tags:1", errors.New("x"))
	h.ChunkFailed(&picksync.ChunkError{})
	h.DuplicateQuery("getItems", "items:1", 0, 2)
	h.Swept(1, 0)
	h.PersistFailed("status:1", errors.New("x"))
	h.PersistDropped("status:2")
	h.Close()

	if got := inner.snapshot(); len(got) != 7 {
		t.Fatalf("delivered %v want 7 events", got)
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped=%d want 0", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	inner := &countHooks{gate: make(chan struct{})}
	h := New(inner, 1, 1)

	h.Swept(1, 1) // taken by the worker, blocked on the gate
	deadline := time.Now().Add(2 * time.Second)
	for len(h.q) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	h.Swept(2, 2) // queued
	h.Swept(3, 3) // dropped
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}

	close(inner.gate)
	h.Close()
	h.Swept(4, 4) // after Close
	if h.Dropped() != 2 {
		t.Fatalf("dropped=%d want 2", h.Dropped())
	}
	if got := inner.snapshot(); len(got) != 2 {
		t.Fatalf("delivered %v want 2", got)
	}
}
