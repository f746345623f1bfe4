package picksync

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/picksync/internal/latency"
)

// BatchResult reports what a scan submission did.
type BatchResult struct {
	Submitted  int // distinct, valid records after in-batch dedup
	Duplicates int // records dropped because their tag repeated within the batch
	Invalid    int // records without a tag id

	Skipped int // already recorded remotely; reconciled without a write
	Written int // records in chunks the source accepted
	Failed  int // records in chunks the source rejected or errored on

	Chunks       int // chunk writes attempted
	FailedChunks int

	// Cancelled is set when the caller's context ended before every chunk was
	// attempted. Chunks already attempted keep their outcome.
	Cancelled bool

	// Err is the existence check failure or the cancellation cause, if any.
	// Individual chunk failures are reported through Hooks.ChunkFailed.
	Err error
}

// OK reports overall success: at least one record was written or skipped.
func (r BatchResult) OK() bool { return r.Written+r.Skipped > 0 }

func (c *cache) SubmitScan(ctx context.Context, rec ScanRecord) bool {
	return c.SubmitScans(ctx, []ScanRecord{rec}).OK()
}

func (c *cache) SubmitScansBatch(ctx context.Context, recs []ScanRecord) bool {
	return c.SubmitScans(ctx, recs).OK()
}

// SubmitScans writes records whose tags are not yet recorded, in chunks, and
// reconciles the cache after every chunk whatever its outcome: the chunk's tags
// join the processed-tag sets and the touched items and statuses are
// invalidated. Records already recorded remotely are reconciled the same way
// without a write.
func (c *cache) SubmitScans(ctx context.Context, recs []ScanRecord) BatchResult {
	c.stats.batches.Add(1)
	res := c.submit(ctx, recs)

	c.stats.recordsWritten.Add(uint64(res.Written))
	c.stats.recordsSkipped.Add(uint64(res.Skipped))
	if !res.OK() {
		c.stats.batchesFailed.Add(1)
	}

	f := Fields{
		"submitted": res.Submitted,
		"written":   res.Written,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"chunks":    res.Chunks,
	}
	switch {
	case res.Err != nil:
		f["err"] = res.Err
		c.log.Warn("scan batch incomplete", f)
	case res.FailedChunks > 0:
		c.log.Warn("scan batch partially written", f)
	default:
		c.log.Debug("scan batch written", f)
	}
	return res
}

func (c *cache) submit(ctx context.Context, recs []ScanRecord) BatchResult {
	var res BatchResult
	unique := make([]ScanRecord, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		if r.TagID == "" {
			res.Invalid++
			continue
		}
		if _, dup := seen[r.TagID]; dup {
			res.Duplicates++
			continue
		}
		seen[r.TagID] = struct{}{}
		unique = append(unique, r)
	}
	res.Submitted = len(unique)
	if len(unique) == 0 {
		return res
	}
	if c.isClosed() {
		res.Err = ErrClosed
		return res
	}

	ids := make([]string, len(unique))
	for i, r := range unique {
		ids[i] = r.TagID
	}
	existing, err := latency.Time(c.lat, "check_existing", func() (map[string]struct{}, error) {
		return c.src.CheckExisting(ctx, ids)
	})
	if err != nil {
		if isCancel(err) {
			res.Cancelled = true
			c.stats.cancellations.Add(1)
		}
		res.Err = fmt.Errorf("check existing tags: %w", err)
		return res
	}

	fresh := unique[:0:0]
	var known []ScanRecord
	for _, r := range unique {
		if _, ok := existing[r.TagID]; ok {
			known = append(known, r)
			continue
		}
		fresh = append(fresh, r)
	}
	res.Skipped = len(known)
	if len(known) > 0 {
		c.reconcile(known)
	}

	// a started write is never abandoned; cancellation only stops new chunks
	wctx := context.WithoutCancel(ctx)
	for i, chunk := range chunked(fresh, c.chunkSize) {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			res.Err = err
			c.stats.cancellations.Add(1)
			break
		}
		res.Chunks++
		ok, err := latency.Time(c.lat, "write_chunk", func() (bool, error) {
			return c.src.WriteChunk(wctx, chunk)
		})
		if err == nil && ok {
			res.Written += len(chunk)
			c.stats.chunksWritten.Add(1)
		} else {
			res.Failed += len(chunk)
			res.FailedChunks++
			c.stats.chunksFailed.Add(1)
			ce := &ChunkError{Index: i, Size: len(chunk), Picklists: picklistsOf(chunk), Err: err}
			c.log.Warn("scan chunk failed", Fields{"chunk": i, "size": len(chunk), "err": ce})
			c.hooks.ChunkFailed(ce)
		}
		c.reconcile(chunk)
	}
	return res
}

// reconcile folds recs into the cache: tags are unioned into each picklist's
// processed set, and its items and status are invalidated so the next read
// picks up the new scan counts.
func (c *cache) reconcile(recs []ScanRecord) {
	byList := make(map[string][]string)
	for _, r := range recs {
		byList[r.PicklistNo] = append(byList[r.PicklistNo], r.TagID)
	}
	for _, p := range picklistsOf(recs) {
		if err := c.store.Union(TagsKey(p), byList[p]); err != nil {
			c.log.Error("tag union failed", Fields{"picklist": p, "err": err})
		}
		c.store.Invalidate(ItemsKey(p), StatusKey(p))
	}
}

// UpdateStatus pushes label for picklist. The cached status is invalidated
// on success so the next read re-derives it.
func (c *cache) UpdateStatus(ctx context.Context, picklist, label string) bool {
	if c.isClosed() {
		c.log.Warn("status update after close", Fields{"picklist": picklist, "label": label})
		return false
	}
	ok, err := latency.Time(c.lat, "update_status", func() (bool, error) {
		return c.src.UpdateStatus(ctx, picklist, label)
	})
	if err != nil {
		if isCancel(err) {
			c.stats.cancellations.Add(1)
		}
		c.log.Warn("status update failed", Fields{"picklist": picklist, "label": label, "err": err})
		return false
	}
	if !ok {
		c.log.Warn("status update rejected", Fields{"picklist": picklist, "label": label})
		return false
	}
	c.store.Invalidate(StatusKey(picklist))
	return true
}

// picklistsOf returns the distinct picklists of recs in first-seen order.
func picklistsOf(recs []ScanRecord) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, r := range recs {
		if _, ok := seen[r.PicklistNo]; ok {
			continue
		}
		seen[r.PicklistNo] = struct{}{}
		out = append(out, r.PicklistNo)
	}
	return out
}

// chunked splits s into consecutive slices of at most n elements.
func chunked[T any](s []T, n int) [][]T {
	if n <= 0 {
		n = len(s)
	}
	var out [][]T
	for len(s) > 0 {
		k := min(n, len(s))
		out = append(out, s[:k:k])
		s = s[k:]
	}
	return out
}
