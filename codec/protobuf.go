package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes protobuf messages. Decode needs a fresh concrete
// message to unmarshal into, so a constructor is required:
//
//	codec.NewProtobuf(func() *pb.User { return &pb.User{} })
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (p Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (p Protobuf[T]) Decode(b []byte) (T, error) {
	m := p.ctor()
	if err := proto.Unmarshal(b, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
