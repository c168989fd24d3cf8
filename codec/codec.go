// Package codec converts caller values to the byte payloads stored inside a
// table record and back. The record framing (touched, ttl, value length) is
// handled elsewhere; a Codec only ever sees the value bytes.
package codec

// Codec serializes values of type V into a record payload. Decode must
// reject bytes it cannot interpret with an error; the cache treats a decode
// failure as a broken record and removes it rather than returning garbage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
