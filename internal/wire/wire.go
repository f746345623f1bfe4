// Package wire frames persisted cache snapshots.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("picksync: corrupt snapshot")
	magic4     = [...]byte{'P', 'K', 'S', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame is one decoded snapshot. Payload aliases the input buffer.
type Frame struct {
	Kind      byte
	Format    string
	UpdatedAt time.Time
	TTL       time.Duration
	Payload   []byte
}

// Entry:
//
//	magic(4) | ver(1) | kind(1) | fmtLen(1) | fmt(fmtLen) |
//	updatedAt(i64 be, unix nanos) | ttl(i64 be, nanos) | vlen(u32 be) | payload(vlen)
func EncodeEntry(f Frame) []byte {
	if l := len(f.Format); l == 0 || l > 0xFF {
		panic("picksync: invalid format name length in snapshot")
	}
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 1 + len(f.Format) + 8 + 8 + 4 + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(f.Kind)
	buf.WriteByte(byte(len(f.Format)))
	buf.WriteString(f.Format)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(f.UpdatedAt.UnixNano()))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(f.TTL))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])
	buf.Write(f.Payload)
	return buf.Bytes()
}

// DecodeEntry parses an entry frame. Trailing bytes are rejected.
func DecodeEntry(b []byte) (Frame, error) {
	const fixed = 4 + 1 + 1 + 1
	if len(b) < fixed || !hasMagic(b) || b[4] != version {
		return Frame{}, ErrCorrupt
	}
	f := Frame{Kind: b[5]}
	off := fixed

	// format
	flen := int(b[6])
	if flen == 0 || flen > len(b)-off {
		return Frame{}, ErrCorrupt
	}
	f.Format = string(b[off : off+flen])
	off += flen

	// updatedAt, ttl, vlen
	if 8+8+4 > len(b)-off {
		return Frame{}, ErrCorrupt
	}
	f.UpdatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8])))
	off += 8
	f.TTL = time.Duration(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8
	if f.TTL < 0 {
		return Frame{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Frame{}, ErrCorrupt
	}
	f.Payload = b[off:]
	return f, nil
}

// Epoch: magic(4) | ver(1) | 'E' | epoch(u64 be)
func EncodeEpoch(epoch uint64) []byte {
	b := make([]byte, 0, 4+1+1+8)
	b = append(b, magic4[:]...)
	b = append(b, version, 'E')
	return binary.BigEndian.AppendUint64(b, epoch)
}

func DecodeEpoch(b []byte) (uint64, error) {
	if len(b) != 4+1+1+8 || !hasMagic(b) || b[4] != version || b[5] != 'E' {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(b[6:]), nil
}
