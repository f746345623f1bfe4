// Package codec turns snapshot payloads into bytes and back.
package codec

import (
	"errors"
	"fmt"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Format names a wire encoding. The name is stored next to each snapshot so a
// reader configured with another format rejects it instead of misdecoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCBOR    Format = "cbor"
	FormatMsgpack Format = "msgpack"
)

var ErrUnknownFormat = errors.New("codec: unknown format")

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCBOR, FormatMsgpack:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// For returns the codec of format f for V. CBOR output is deterministic.
func For[V any](f Format) (Codec[V], error) {
	switch f {
	case FormatJSON:
		return JSON[V]{}, nil
	case FormatCBOR:
		return NewCBOR[V](true)
	case FormatMsgpack:
		return Msgpack[V]{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}
