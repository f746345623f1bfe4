package persist

import (
	"fmt"

	"github.com/unkn0wn-root/picksync"
	"github.com/unkn0wn-root/picksync/codec"
)

// Codecs encodes the payload of each value kind. PicklistNumbers and
// ProcessedTags share Strings.
type Codecs struct {
	Format  codec.Format
	Strings codec.Codec[[]string]
	Items   codec.Codec[[]picksync.PickItem]
	Status  codec.Codec[picksync.PicklistStatus]
}

// NewCodecs builds the codec set for f. maxDecode > 0 caps decoded payload
// sizes.
func NewCodecs(f codec.Format, maxDecode int) (Codecs, error) {
	s, err := codec.For[[]string](f)
	if err != nil {
		return Codecs{}, err
	}
	it, err := codec.For[[]picksync.PickItem](f)
	if err != nil {
		return Codecs{}, err
	}
	st, err := codec.For[picksync.PicklistStatus](f)
	if err != nil {
		return Codecs{}, err
	}
	return Codecs{
		Format:  f,
		Strings: codec.Limit[[]string]{Inner: s, MaxDecode: maxDecode},
		Items:   codec.Limit[[]picksync.PickItem]{Inner: it, MaxDecode: maxDecode},
		Status:  codec.Limit[picksync.PicklistStatus]{Inner: st, MaxDecode: maxDecode},
	}, nil
}

func (c Codecs) encode(v picksync.Value) ([]byte, error) {
	switch vv := v.(type) {
	case picksync.PicklistNumbers:
		return c.Strings.Encode([]string(vv))
	case picksync.ProcessedTags:
		return c.Strings.Encode([]string(vv))
	case picksync.Items:
		return c.Items.Encode([]picksync.PickItem(vv))
	case picksync.PicklistStatus:
		return c.Status.Encode(vv)
	default:
		return nil, fmt.Errorf("persist: cannot encode %T", v)
	}
}

func (c Codecs) decode(k picksync.Kind, b []byte) (picksync.Value, error) {
	switch k {
	case picksync.KindAllPicklists:
		ids, err := c.Strings.Decode(b)
		return picksync.PicklistNumbers(ids), err
	case picksync.KindProcessedTags:
		ids, err := c.Strings.Decode(b)
		return picksync.ProcessedTags(ids), err
	case picksync.KindItems:
		items, err := c.Items.Decode(b)
		return picksync.Items(items), err
	case picksync.KindStatus:
		return c.Status.Decode(b)
	default:
		return nil, fmt.Errorf("persist: unknown kind %d", k)
	}
}
