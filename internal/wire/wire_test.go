package wire

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func sample() Frame {
	return Frame{
		Kind:      2,
		Format:    "cbor",
		UpdatedAt: time.Date(2024, 5, 1, 9, 0, 0, 42, time.UTC),
		TTL:       30 * time.Minute,
		Payload:   []byte("payload"),
	}
}

func TestEntryRoundTrip(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("x"), bytes.Repeat([]byte{0xAB}, 4096)} {
		in := sample()
		in.Payload = payload
		out, err := DecodeEntry(EncodeEntry(in))
		if err != nil {
			t.Fatalf("DecodeEntry: %v", err)
		}
		if out.Kind != in.Kind || out.Format != in.Format || out.TTL != in.TTL {
			t.Fatalf("header mismatch: %+v vs %+v", out, in)
		}
		if !out.UpdatedAt.Equal(in.UpdatedAt) {
			t.Fatalf("updatedAt=%v want %v", out.UpdatedAt, in.UpdatedAt)
		}
		if !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("payload mismatch (len %d vs %d)", len(out.Payload), len(in.Payload))
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := append(EncodeEntry(sample()), 0xDE, 0xAD)
	if _, err := DecodeEntry(enc); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on trailing bytes, got %v", err)
	}
}

func TestEntryCorruptHeaders(t *testing.T) {
	enc := EncodeEntry(sample())

	mutate := func(i int, v byte) []byte {
		b := append([]byte(nil), enc...)
		b[i] = v
		return b
	}
	cases := map[string][]byte{
		"magic":       mutate(0, 'X'),
		"version":     mutate(4, version+1),
		"zero format": mutate(6, 0),
		"long format": mutate(6, 0xFF),
		"empty":       nil,
		"not a frame": []byte("not-wire-format"),
	}
	for name, b := range cases {
		if _, err := DecodeEntry(b); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestEntryTruncated(t *testing.T) {
	enc := EncodeEntry(sample())
	for n := 0; n < len(enc); n++ {
		if _, err := DecodeEntry(enc[:n]); err == nil {
			t.Fatalf("truncated at %d decoded without error", n)
		}
	}
}

func TestEncodeEntryPanicsOnEmptyFormat(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	f := sample()
	f.Format = ""
	EncodeEntry(f)
}

func TestEpoch(t *testing.T) {
	got, err := DecodeEpoch(EncodeEpoch(7))
	if err != nil || got != 7 {
		t.Fatalf("epoch=%d err=%v", got, err)
	}
	if _, err := DecodeEpoch(EncodeEntry(sample())); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("entry frame decoded as epoch")
	}
}
