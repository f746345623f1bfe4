package picksync

import "time"

// PickItem is one planned line of a picklist.
// QtyScan and LastScanAt are derived from processed-tag records; see ApplyScanCounts.
type PickItem struct {
	ID          string    `json:"id" msgpack:"id" cbor:"id"`
	PicklistNo  string    `json:"picklistNo" msgpack:"picklistNo" cbor:"picklistNo"`
	ArticleID   string    `json:"articleId" msgpack:"articleId" cbor:"articleId"`
	ArticleName string    `json:"articleName" msgpack:"articleName" cbor:"articleName"`
	Size        string    `json:"size" msgpack:"size" cbor:"size"`
	ProductID   string    `json:"productId,omitempty" msgpack:"productId,omitempty" cbor:"productId,omitempty"`
	QtyPl       int       `json:"qtyPl" msgpack:"qtyPl" cbor:"qtyPl"`
	QtyScan     int       `json:"qtyScan" msgpack:"qtyScan" cbor:"qtyScan"`
	LastScanAt  time.Time `json:"lastScanAt,omitempty" msgpack:"lastScanAt,omitempty" cbor:"lastScanAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt" msgpack:"createdAt" cbor:"createdAt"`
}

// ItemKey is the reconciliation identity of a pick item.
type ItemKey struct {
	ArticleID string
	Size      string
}

func (it PickItem) Key() ItemKey { return ItemKey{ArticleID: it.ArticleID, Size: it.Size} }

// ScanCount aggregates processed-tag records for one ItemKey.
type ScanCount struct {
	Count      int
	LastScanAt time.Time
}

// ApplyScanCounts sets QtyScan and LastScanAt of every item from counts,
// keyed by (article, size). Items without a count get zero.
// items is modified in place and returned.
func ApplyScanCounts(items []PickItem, counts map[ItemKey]ScanCount) []PickItem {
	for i := range items {
		c := counts[items[i].Key()]
		items[i].QtyScan = c.Count
		items[i].LastScanAt = c.LastScanAt
	}
	return items
}

// ScanRecord is the unit submitted for writing. TagID alone is its identity.
type ScanRecord struct {
	PicklistNo  string `json:"picklistNo" msgpack:"picklistNo" cbor:"picklistNo"`
	ArticleID   string `json:"articleId" msgpack:"articleId" cbor:"articleId"`
	TagID       string `json:"tagId" msgpack:"tagId" cbor:"tagId"`
	ProductID   string `json:"productId,omitempty" msgpack:"productId,omitempty" cbor:"productId,omitempty"`
	ArticleName string `json:"articleName" msgpack:"articleName" cbor:"articleName"`
	Size        string `json:"size" msgpack:"size" cbor:"size"`
}

// CountScans aggregates records per (article, size). It is the reference for
// the QtyScan invariant used by in-memory sources.
func CountScans(records []ScanRecord) map[ItemKey]ScanCount {
	out := make(map[ItemKey]ScanCount)
	for _, r := range records {
		k := ItemKey{ArticleID: r.ArticleID, Size: r.Size}
		c := out[k]
		c.Count++
		out[k] = c
	}
	return out
}

// Value is the tagged union of everything the store holds:
// PicklistNumbers, Items, ProcessedTags or PicklistStatus.
type Value interface {
	Kind() Kind
	clone() Value
}

// PicklistNumbers is the value of the KindAllPicklists key.
type PicklistNumbers []string

// Items is the value of a KindItems key.
type Items []PickItem

// ProcessedTags is the value of a KindProcessedTags key.
type ProcessedTags []string

func (PicklistNumbers) Kind() Kind { return KindAllPicklists }
func (Items) Kind() Kind           { return KindItems }
func (ProcessedTags) Kind() Kind   { return KindProcessedTags }
func (PicklistStatus) Kind() Kind  { return KindStatus }

func (v PicklistNumbers) clone() Value { return PicklistNumbers(cloneSlice(v)) }
func (v Items) clone() Value           { return Items(cloneSlice(v)) }
func (v ProcessedTags) clone() Value   { return ProcessedTags(cloneSlice(v)) }
func (v PicklistStatus) clone() Value  { return v }

// cloneSlice copies s. A nil s stays nil so an empty entry and an absent one
// are told apart by the store, not by the slice.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// normalize removes duplicate identifiers from set-like values.
func normalize(v Value) Value {
	switch vv := v.(type) {
	case PicklistNumbers:
		return PicklistNumbers(dedupe(vv))
	case ProcessedTags:
		return ProcessedTags(dedupe(vv))
	default:
		return v
	}
}

// dedupe keeps the first occurrence of every id, preserving order.
func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Entry is a cached value with its bookkeeping.
// TTL 0 means the entry never expires.
type Entry struct {
	Value     Value
	UpdatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry's TTL elapsed at now.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.UpdatedAt) >= e.TTL
}
