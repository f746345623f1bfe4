package picksync

import "fmt"

// Kind identifies the entity kind stored under a Key.
type Kind uint8

const (
	KindAllPicklists Kind = iota + 1
	KindItems
	KindProcessedTags
	KindStatus
)

var kindNames = [...]string{
	KindAllPicklists:  "picklists",
	KindItems:         "items",
	KindProcessedTags: "tags",
	KindStatus:        "status",
}

// Kinds lists every valid kind in declaration order.
var Kinds = []Kind{KindAllPicklists, KindItems, KindProcessedTags, KindStatus}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool { return k >= KindAllPicklists && k <= KindStatus }

// Key addresses one cache entry. Picklist is empty for KindAllPicklists.
type Key struct {
	Kind     Kind
	Picklist string
}

func AllPicklistsKey() Key    { return Key{Kind: KindAllPicklists} }
func ItemsKey(no string) Key  { return Key{Kind: KindItems, Picklist: no} }
func TagsKey(no string) Key   { return Key{Kind: KindProcessedTags, Picklist: no} }
func StatusKey(no string) Key { return Key{Kind: KindStatus, Picklist: no} }

// picklistKeys returns every per-picklist key of no.
func picklistKeys(no string) []Key { return []Key{ItemsKey(no), TagsKey(no), StatusKey(no)} }

func (k Key) String() string {
	if k.Kind == KindAllPicklists {
		return k.Kind.String()
	}
	return k.Kind.String() + ":" + k.Picklist
}
