package codec

import "github.com/fxamacker/cbor/v2"

// CBOR serializes values with fxamacker/cbor. The zero value is not usable;
// build one with NewCBOR or MustCBOR so the encode/decode modes are set.
//
// Deterministic mode uses the RFC 8949 core deterministic encoding, which
// yields byte-for-byte stable payloads for equal values. That matters when
// payloads feed content hashing or replica comparison; otherwise the
// preferred (smaller, faster) encoding is used. Times are encoded as
// RFC3339Nano either way.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	var opts cbor.EncOptions
	if deterministic {
		opts = cbor.CoreDetEncOptions()
	} else {
		opts = cbor.PreferredUnsortedEncOptions()
	}
	opts.Time = cbor.TimeRFC3339Nano

	enc, err := opts.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: enc, dec: dec}, nil
}

// MustCBOR panics when mode construction fails. Intended for package-level
// variables in tests and examples, not for configuration paths.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}
