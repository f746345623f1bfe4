package picksync

import (
	"testing"
	"time"
)

func TestDeriveStatus(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	items := []PickItem{
		{QtyPl: 10, QtyScan: 3, LastScanAt: t0},
		{QtyPl: 5, QtyScan: 0},
		{QtyPl: 1, QtyScan: 3, LastScanAt: t0.Add(time.Minute)},
	}
	st := DeriveStatus("PL-9", items)
	want := PicklistStatus{
		Picklist:    "PL-9",
		Total:       16,
		Scanned:     6,
		Remaining:   10,
		Overscan:    2,
		HasActivity: true,
		LastScanAt:  t0.Add(time.Minute),
	}
	if st != want {
		t.Fatalf("status=%+v\nwant   %+v", st, want)
	}
	if again := DeriveStatus("PL-9", items); again != st {
		t.Fatalf("DeriveStatus is not deterministic")
	}
}

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		name  string
		items []PickItem
		want  string
	}{
		{"empty", nil, LabelOpen},
		{"untouched", []PickItem{{QtyPl: 2}}, LabelOpen},
		{"partial", []PickItem{{QtyPl: 2, QtyScan: 1}}, LabelInProgress},
		{"complete", []PickItem{{QtyPl: 2, QtyScan: 2}}, LabelComplete},
		{"overscan", []PickItem{{QtyPl: 2, QtyScan: 3}}, LabelOverscan},
		// overscan on one line wins even while another is short
		{"mixed", []PickItem{{QtyPl: 2, QtyScan: 3}, {QtyPl: 4}}, LabelOverscan},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus("p", tc.items).Label(); got != tc.want {
				t.Fatalf("label=%s want %s", got, tc.want)
			}
		})
	}
}
