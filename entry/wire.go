package entry

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("relcache: corrupt record")
	magic4     = [...]byte{'R', 'E', 'L', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record: magic(4) | ver(1) | touched(u64 be) | ttl(i64 be) | vlen(u32 be) | value(vlen)
//
// Table and key are not repeated inside the record; the store addresses a
// record by (table, key) already, and Decode re-attaches both so the
// in-memory Entry is the full 5-tuple.
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 8 + 8 + 4 + len(e.Value))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.Touched))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.TTL))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Value)))
	buf.Write(u4[:])

	buf.Write(e.Value)
	return buf.Bytes()
}

func Decode(table, key string, b []byte) (Entry, error) {
	const hdr = 4 + 1 + 8 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}

	off := 5

	touched := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	ttl := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return Entry{}, ErrCorrupt
	}

	value := make([]byte, vlen)
	copy(value, b[off:off+vlen])

	return Entry{Table: table, Key: key, Value: value, Touched: touched, TTL: ttl}, nil
}
