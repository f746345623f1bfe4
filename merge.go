package picksync

// Merge reconciles a freshly fetched value with the cached value of the same
// key and returns the value to store. It never fails:
//
//   - PicklistNumbers, ProcessedTags: union. Fresh order first, cached-only ids
//     appended. Merge never removes an id; only invalidation does.
//   - Items: keyed by (article, size). Fresh QtyPl and metadata win, QtyScan and
//     LastScanAt take the higher of both sides. Keys only in cached are dropped.
//   - PicklistStatus: fresh wins. Status is derived from merged items by the
//     caller, never merged field by field.
//
// Values of different kinds are not merged; fresh is returned.
func Merge(cached, fresh Value) Value {
	if fresh == nil {
		return cached
	}
	if cached == nil || cached.Kind() != fresh.Kind() {
		return fresh
	}
	switch f := fresh.(type) {
	case PicklistNumbers:
		return PicklistNumbers(union(cached.(PicklistNumbers), f))
	case ProcessedTags:
		return ProcessedTags(union(cached.(ProcessedTags), f))
	case Items:
		return mergeItems(cached.(Items), f)
	case PicklistStatus:
		return f
	default:
		return fresh
	}
}

func union(cached, fresh []string) []string {
	out := make([]string, 0, len(fresh)+len(cached))
	seen := make(map[string]struct{}, len(fresh)+len(cached))
	for _, src := range [2][]string{fresh, cached} {
		for _, id := range src {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// mergeItems pairs items sharing an ItemKey by occurrence order, so a picklist
// carrying the same article and size on two lines stays idempotent under merge.
func mergeItems(cached, fresh Items) Items {
	byKey := make(map[ItemKey][]PickItem, len(cached))
	for _, it := range cached {
		k := it.Key()
		byKey[k] = append(byKey[k], it)
	}
	used := make(map[ItemKey]int, len(byKey))

	out := make(Items, 0, len(fresh))
	for _, it := range fresh {
		k := it.Key()
		if prev := byKey[k]; used[k] < len(prev) {
			old := prev[used[k]]
			used[k]++
			it.QtyScan = max(it.QtyScan, old.QtyScan)
			if old.LastScanAt.After(it.LastScanAt) {
				it.LastScanAt = old.LastScanAt
			}
		}
		out = append(out, it)
	}
	return out
}
