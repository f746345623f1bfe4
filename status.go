package picksync

import "time"

// Status labels pushed to the remote store by UpdateStatus.
const (
	LabelOpen       = "open"
	LabelInProgress = "in_progress"
	LabelComplete   = "complete"
	LabelOverscan   = "overscan"
)

// PicklistStatus is the aggregate of a picklist's items. It is a pure function
// of the items and never a source of truth.
type PicklistStatus struct {
	Picklist    string    `json:"picklist" msgpack:"picklist" cbor:"picklist"`
	Total       int       `json:"total" msgpack:"total" cbor:"total"`
	Scanned     int       `json:"scanned" msgpack:"scanned" cbor:"scanned"`
	Remaining   int       `json:"remaining" msgpack:"remaining" cbor:"remaining"`
	Overscan    int       `json:"overscan" msgpack:"overscan" cbor:"overscan"`
	HasActivity bool      `json:"hasActivity" msgpack:"hasActivity" cbor:"hasActivity"`
	LastScanAt  time.Time `json:"lastScanAt,omitempty" msgpack:"lastScanAt,omitempty" cbor:"lastScanAt,omitempty"`
}

// DeriveStatus computes the status of picklist from its items.
func DeriveStatus(picklist string, items []PickItem) PicklistStatus {
	st := PicklistStatus{Picklist: picklist}
	for _, it := range items {
		st.Total += it.QtyPl
		st.Scanned += it.QtyScan
		if over := it.QtyScan - it.QtyPl; over > 0 {
			st.Overscan += over
		}
		if it.LastScanAt.After(st.LastScanAt) {
			st.LastScanAt = it.LastScanAt
		}
	}
	st.Remaining = max(0, st.Total-st.Scanned)
	st.HasActivity = st.Scanned > 0
	return st
}

// Label maps the status onto the remote store's status vocabulary.
func (s PicklistStatus) Label() string {
	switch {
	case s.Overscan > 0:
		return LabelOverscan
	case !s.HasActivity:
		return LabelOpen
	case s.Remaining == 0:
		return LabelComplete
	default:
		return LabelInProgress
	}
}
