package latency

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerQuantiles(t *testing.T) {
	tr := New(0.01)
	ops := []string{"fetch_items", "write_chunk"}
	for _, op := range ops {
		tr.Record(op, 1*time.Millisecond, false)
		tr.Record(op, 5*time.Millisecond, false)
		tr.Record(op, 10*time.Millisecond, false)
		tr.Record(op, 50*time.Millisecond, false)
		tr.Record(op, 100*time.Millisecond, true)
	}

	for _, op := range ops {
		s, err := tr.Get(op)
		if err != nil {
			t.Fatalf("Get(%s): %v", op, err)
		}
		if s.Count != 5 {
			t.Errorf("%s: count=%d want 5", op, s.Count)
		}
		if s.Errors != 1 {
			t.Errorf("%s: errors=%d want 1", op, s.Errors)
		}
		if s.Min < 0.9 || s.Min > 1.1 {
			t.Errorf("%s: min=%.2f want ~1ms", op, s.Min)
		}
		if s.Max < 99 || s.Max > 101 {
			t.Errorf("%s: max=%.2f want ~100ms", op, s.Max)
		}
		if s.P50 < 5 || s.P50 > 15 {
			t.Errorf("%s: p50=%.2f want ~10ms", op, s.P50)
		}
	}

	all := tr.All()
	if len(all) != len(ops) {
		t.Fatalf("All: got %d ops want %d", len(all), len(ops))
	}
	if all[0].Operation != "fetch_items" {
		t.Fatalf("All not sorted: %v", all)
	}
	if _, err := tr.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}

func TestTimeRecordsFailures(t *testing.T) {
	tr := New(0.01)
	boom := errors.New("boom")

	v, err := Time(tr, "check_existing", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("Time ok: v=%d err=%v", v, err)
	}
	if _, err := Time(tr, "check_existing", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("Time must pass the error through, got %v", err)
	}

	s, err := tr.Get("check_existing")
	if err != nil {
		t.Fatal(err)
	}
	if s.Count != 2 || s.Errors != 1 {
		t.Fatalf("count=%d errors=%d want 2/1", s.Count, s.Errors)
	}
}
