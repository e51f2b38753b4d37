package codec

import (
	"replaylog/pkg/compression"
	"replaylog/pkg/types"
)

type compressedCodec[T any] struct {
	inner Codec[T]
	c     *compression.Compressor
}

// Compressed compresses the records of inner with c. Records compressed with
// any algorithm decode, whatever c writes.
func Compressed[T any](inner Codec[T], c *compression.Compressor) Codec[T] {
	return compressedCodec[T]{inner: inner, c: c}
}

func (cc compressedCodec[T]) Marshal(v T) (types.Record, error) {
	rec, err := cc.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cc.c.Compress(rec)
}

func (cc compressedCodec[T]) Unmarshal(rec types.Record) (T, error) {
	data, err := cc.c.Decompress(rec)
	if err != nil {
		var zero T
		return zero, err
	}
	return cc.inner.Unmarshal(data)
}
