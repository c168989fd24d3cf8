package codec

import "encoding/json"

// JSONCodec serializes values with encoding/json. The zero value is ready to
// use. Struct tags on V control the payload shape as usual.
type JSONCodec[V any] struct{}

var _ Codec[struct{}] = JSONCodec[struct{}]{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}
