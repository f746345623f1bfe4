package sloghooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/picksync"
)

func newJSONHooks(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestChunkFailedLogsDetails(t *testing.T) {
	h, buf := newJSONHooks(Options{})
	h.ChunkFailed(&picksync.ChunkError{Index: 1, Size: 50, Picklists: []string{"PL-1"}, Err: errors.New("boom")})

	recs := records(t, buf)
	if len(recs) != 1 {
		t.Fatalf("records=%d want 1", len(recs))
	}
	r := recs[0]
	if r["msg"] != "picksync.chunk_failed" || r["level"] != "ERROR" {
		t.Fatalf("record=%v", r)
	}
	if r["chunk"] != float64(1) || r["size"] != float64(50) || r["err"] != "boom" {
		t.Fatalf("record=%v", r)
	}
}

func TestDuplicateSampling(t *testing.T) {
	h, buf := newJSONHooks(Options{DuplicateEvery: 3})
	for i := 0; i < 9; i++ {
		h.DuplicateQuery("getItems", "items:PL-1", time.Millisecond, i)
	}
	if n := len(records(t, buf)); n != 3 {
		t.Fatalf("logged %d duplicate flags want 3", n)
	}
}

func TestRedact(t *testing.T) {
	h, buf := newJSONHooks(Options{Redact: HashKey})
	h.FetchFailed("items:PL-1", errors.New("down"))

	r := records(t, buf)[0]
	if r["key"] != HashKey("items:PL-1") {
		t.Fatalf("key=%v want redacted", r["key"])
	}
	if len(HashKey("x")) != 16 {
		t.Fatalf("HashKey length=%d want 16", len(HashKey("x")))
	}
}

func TestQuietEvents(t *testing.T) {
	h, buf := newJSONHooks(Options{})
	h.Swept(0, 0)
	h.ChunkFailed(nil)
	if buf.Len() != 0 {
		t.Fatalf("empty sweep or nil chunk logged: %s", buf.String())
	}

	var nilLogger Hooks
	nilLogger.PersistDropped("k") // no logger: no panic
}
