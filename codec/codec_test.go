package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type line struct {
	Article string    `json:"article" msgpack:"article" cbor:"article"`
	Qty     int       `json:"qty" msgpack:"qty" cbor:"qty"`
	At      time.Time `json:"at" msgpack:"at" cbor:"at"`
}

func TestForEveryFormat(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 123456789, time.UTC)
	in := []line{{Article: "A1", Qty: 3, At: at}, {Article: "B2"}}
	for _, f := range []Format{FormatJSON, FormatCBOR, FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			c, err := For[[]line](f)
			if err != nil {
				t.Fatalf("For: %v", err)
			}
			b, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(out) != 2 || out[0].Qty != 3 || !out[0].At.Equal(at) {
				t.Fatalf("decoded %+v", out)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("cbor"); err != nil || f != FormatCBOR {
		t.Fatalf("ParseFormat(cbor)=%q,%v", f, err)
	}
	if _, err := ParseFormat("protobuf"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("want ErrUnknownFormat, got %v", err)
	}
	if _, err := For[int](Format("xml")); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("want ErrUnknownFormat, got %v", err)
	}
}

// Deterministic CBOR must not depend on map iteration order.
func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	m := map[string]int{"z": 1, "a": 2, "m": 3, "b": 4}
	first, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, _ := c.Encode(m)
		if !bytes.Equal(first, b) {
			t.Fatalf("encoding %d differs", i)
		}
	}
}

func TestLimit(t *testing.T) {
	c := Limit[[]string]{Inner: JSON[[]string]{}, MaxDecode: 16}
	b, err := c.Encode([]string{"T1", "T2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(b); err != nil {
		t.Fatalf("small payload rejected: %v", err)
	}
	if _, err := c.Decode(bytes.Repeat([]byte("x"), 17)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	off := Limit[[]string]{Inner: JSON[[]string]{}}
	if _, err := off.Decode([]byte(`["` + string(bytes.Repeat([]byte("x"), 64)) + `"]`)); err != nil {
		t.Fatalf("MaxDecode=0 should not limit: %v", err)
	}
}
