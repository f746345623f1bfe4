package picksync

import (
	"reflect"
	"slices"
	"testing"
	"time"
)

func TestMergeUnionKeepsFreshOrderFirst(t *testing.T) {
	got := Merge(ProcessedTags{"T1", "T3"}, ProcessedTags{"T2", "T1"})
	if want := (ProcessedTags{"T2", "T1", "T3"}); !slices.Equal(got.(ProcessedTags), want) {
		t.Fatalf("merge=%v want %v", got, want)
	}

	got = Merge(PicklistNumbers{"PL-1"}, PicklistNumbers(nil))
	if !slices.Equal(got.(PicklistNumbers), PicklistNumbers{"PL-1"}) {
		t.Fatalf("an empty fetch must not remove ids, got %v", got)
	}
}

// TestMergeUnionMonotone: every id of either side survives the merge.
func TestMergeUnionMonotone(t *testing.T) {
	cached := ProcessedTags{"a", "b", "c"}
	fresh := ProcessedTags{"c", "d"}
	got := Merge(cached, fresh).(ProcessedTags)
	for _, id := range append(slices.Clone(cached), fresh...) {
		if !slices.Contains(got, id) {
			t.Fatalf("id %q lost in %v", id, got)
		}
	}
}

func TestMergeItemsScanMax(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cached := Items{
		{ArticleID: "A", Size: "M", QtyPl: 10, QtyScan: 4, LastScanAt: t0.Add(time.Minute)},
		{ArticleID: "B", Size: "S", QtyPl: 2, QtyScan: 2},
		{ArticleID: "GONE", Size: "S", QtyPl: 1},
	}
	fresh := Items{
		{ArticleID: "A", Size: "M", QtyPl: 12, QtyScan: 3, LastScanAt: t0},
		{ArticleID: "B", Size: "S", QtyPl: 2, QtyScan: 5, LastScanAt: t0},
		{ArticleID: "NEW", Size: "L", QtyPl: 1},
	}
	got := Merge(cached, fresh).(Items)

	if len(got) != 3 {
		t.Fatalf("len=%d want 3 (cached-only lines dropped)", len(got))
	}
	if got[0].QtyPl != 12 || got[0].QtyScan != 4 || !got[0].LastScanAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("A: %+v", got[0])
	}
	if got[1].QtyScan != 5 || !got[1].LastScanAt.Equal(t0) {
		t.Fatalf("B: %+v", got[1])
	}
	if got[2].ArticleID != "NEW" {
		t.Fatalf("NEW missing: %+v", got[2])
	}
}

// TestMergeItemsDuplicateLines: two lines with the same article and size pair
// by position instead of collapsing.
func TestMergeItemsDuplicateLines(t *testing.T) {
	cached := Items{
		{ArticleID: "A", Size: "M", QtyScan: 1},
		{ArticleID: "A", Size: "M", QtyScan: 7},
	}
	fresh := Items{
		{ArticleID: "A", Size: "M", QtyScan: 2},
		{ArticleID: "A", Size: "M", QtyScan: 0},
	}
	got := Merge(cached, fresh).(Items)
	if got[0].QtyScan != 2 || got[1].QtyScan != 7 {
		t.Fatalf("qtyScan=%d,%d want 2,7", got[0].QtyScan, got[1].QtyScan)
	}
}

func TestMergeIdempotent(t *testing.T) {
	cases := []struct {
		name          string
		cached, fresh Value
	}{
		{"tags", ProcessedTags{"x", "y"}, ProcessedTags{"y", "z"}},
		{"items", Items{{ArticleID: "A", Size: "M", QtyScan: 3}}, Items{{ArticleID: "A", Size: "M", QtyScan: 1}}},
		{"status", PicklistStatus{Total: 1}, PicklistStatus{Total: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := Merge(tc.cached, tc.fresh)
			twice := Merge(once, tc.fresh)
			if !reflect.DeepEqual(once, twice) {
				t.Fatalf("merge not idempotent: %v vs %v", once, twice)
			}
		})
	}
}

func TestMergeNilAndMismatch(t *testing.T) {
	tags := ProcessedTags{"x"}
	if got := Merge(tags, nil); !reflect.DeepEqual(got, tags) {
		t.Fatalf("nil fresh should keep cached, got %v", got)
	}
	if got := Merge(nil, tags); !reflect.DeepEqual(got, tags) {
		t.Fatalf("nil cached should take fresh, got %v", got)
	}
	st := PicklistStatus{Total: 3}
	if got := Merge(tags, st); got != Value(st) {
		t.Fatalf("kind mismatch should take fresh, got %v", got)
	}
}
