package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/picksync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DuplicateEvery uint64
	RefreshEvery   uint64
	// Optional key redactor. Keys carry picklist numbers; nil logs them as-is.
	// Use HashKey to log a SHA-256 prefix instead.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	duplicateCtr atomic.Uint64
	refreshCtr   atomic.Uint64
}

var _ picksync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

// HashKey redacts a key to the hex of its SHA-256 prefix.
func HashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return k
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) RefreshFailed(key string, err error) {
	if h.l == nil || !sample(h.opts.RefreshEvery, &h.refreshCtr) {
		return
	}
	h.l.Warn("picksync.refresh_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("picksync.fetch_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ChunkFailed(err *picksync.ChunkError) {
	if h.l == nil || err == nil {
		return
	}
	h.l.Error("picksync.chunk_failed",
		"chunk", err.Index,
		"size", err.Size,
		"picklists", err.Picklists,
		"err", err.Err)
}

func (h *Hooks) DuplicateQuery(op, key string, sinceLast time.Duration, count int) {
	if h.l == nil || !sample(h.opts.DuplicateEvery, &h.duplicateCtr) {
		return
	}
	h.l.Debug("picksync.duplicate_query",
		"op", op,
		"key", h.redact(key),
		"since_last", sinceLast,
		"count", count)
}

func (h *Hooks) Swept(entries, gens int) {
	if h.l == nil || entries+gens == 0 {
		return
	}
	h.l.Debug("picksync.swept",
		"entries", entries,
		"gens", gens)
}

func (h *Hooks) PersistFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("picksync.persist_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) PersistDropped(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("picksync.persist_dropped",
		"key", h.redact(key))
}
