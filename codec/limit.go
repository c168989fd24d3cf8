package codec

import (
	"errors"
	"fmt"
)

// ErrValueTooLarge is returned by LimitCodec when an incoming payload
// exceeds the configured bound.
var ErrValueTooLarge = errors.New("codec: value too large")

// LimitCodec bounds the payload size accepted at Decode time. Encode passes
// through untouched. Useful when the table is shared with writers you do not
// control and a runaway record should fail loudly instead of allocating.
//
// MaxDecode <= 0 disables the check.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

var _ Codec[struct{}] = LimitCodec[struct{}]{}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) {
	return c.Inner.Encode(v)
}

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
