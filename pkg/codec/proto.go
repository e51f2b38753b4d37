package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"replaylog/pkg/types"
)

type protoCodec[T proto.Message] struct {
	newMsg func() T
}

// Proto encodes protobuf messages. newMsg returns an empty message to decode
// into.
func Proto[T proto.Message](newMsg func() T) Codec[T] {
	return protoCodec[T]{newMsg: newMsg}
}

func (c protoCodec[T]) Marshal(v T) (types.Record, error) {
	data, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proto: %w", err)
	}
	return data, nil
}

func (c protoCodec[T]) Unmarshal(rec types.Record) (T, error) {
	v := c.newMsg()
	if err := proto.Unmarshal(rec, v); err != nil {
		return v, fmt.Errorf("failed to unmarshal proto: %w", err)
	}
	return v, nil
}
