package codec

// Bytes is the identity codec for []byte values: the payload is the value.
// Use it when callers already hold serialized bytes and only want the
// record's ttl/touched bookkeeping.
type Bytes struct{}

var _ Codec[[]byte] = Bytes{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their raw bytes. No validation is performed;
// whatever bytes come back are returned as a string.
type String struct{}

var _ Codec[string] = String{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
