// Package codec turns values into log records and back.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"replaylog/pkg/types"
)

// Codec serializes values of type T into records.
type Codec[T any] interface {
	Marshal(v T) (types.Record, error)
	Unmarshal(rec types.Record) (T, error)
}

// Funcs adapts a pair of functions to a Codec.
type Funcs[T any] struct {
	MarshalFunc   func(T) (types.Record, error)
	UnmarshalFunc func(types.Record) (T, error)
}

func (f Funcs[T]) Marshal(v T) (types.Record, error)     { return f.MarshalFunc(v) }
func (f Funcs[T]) Unmarshal(rec types.Record) (T, error) { return f.UnmarshalFunc(rec) }

type jsonCodec[T any] struct{}

// JSON encodes values with encoding/json.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

func (jsonCodec[T]) Marshal(v T) (types.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json: %w", err)
	}
	return data, nil
}

func (jsonCodec[T]) Unmarshal(rec types.Record) (T, error) {
	var v T
	if err := json.Unmarshal(rec, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return v, nil
}

type msgpackCodec[T any] struct{}

// Msgpack encodes values with MessagePack.
func Msgpack[T any]() Codec[T] { return msgpackCodec[T]{} }

func (msgpackCodec[T]) Marshal(v T) (types.Record, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	return data, nil
}

func (msgpackCodec[T]) Unmarshal(rec types.Record) (T, error) {
	var v T
	if err := msgpack.Unmarshal(rec, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}
	return v, nil
}

type bytesCodec struct{}

// Bytes stores byte slices as they are. Unmarshal copies the record.
func Bytes() Codec[[]byte] { return bytesCodec{} }

func (bytesCodec) Marshal(v []byte) (types.Record, error) { return v, nil }

func (bytesCodec) Unmarshal(rec types.Record) ([]byte, error) {
	out := make([]byte, len(rec))
	copy(out, rec)
	return out, nil
}

// ByName returns the codec registered under name: "json" or "msgpack".
func ByName[T any](name string) (Codec[T], error) {
	switch name {
	case "", "json":
		return JSON[T](), nil
	case "msgpack":
		return Msgpack[T](), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
