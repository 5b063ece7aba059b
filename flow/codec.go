package flow

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

// Codec is the byte codec contract for user state, per spec.md §3 ("State (S):
// user-defined opaque value with a byte codec"). Serialization formats are
// explicitly out of scope for the core (spec.md §1); this is the seam a
// caller plugs a concrete codec into.
type Codec[S any] interface {
	Encode(*bytes.Buffer, S) error
	Decode([]byte) (S, error)
}

var defaultJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONCodec is a generic JSON en/decoder, grounded on the teacher's
// JsonCodec: uses json-iterator for performance parity with the rest of the
// stack's hot path codecs.
type JSONCodec[S any] struct{}

func (JSONCodec[S]) Encode(b *bytes.Buffer, s S) error {
	stream := defaultJSON.BorrowStream(b)
	defer defaultJSON.ReturnStream(stream)
	stream.WriteVal(s)
	return stream.Flush()
}

func (JSONCodec[S]) Decode(b []byte) (S, error) {
	iter := defaultJSON.BorrowIterator(b)
	defer defaultJSON.ReturnIterator(iter)
	var s S
	iter.ReadVal(&s)
	return s, iter.Error
}

type byteCodec struct{}

func (byteCodec) Encode(b *bytes.Buffer, v []byte) error {
	_, err := b.Write(v)
	return err
}

func (byteCodec) Decode(b []byte) ([]byte, error) {
	return b, nil
}

// ByteCodec is a convenience Codec for raw []byte state.
var ByteCodec Codec[[]byte] = byteCodec{}

type stringCodec struct{}

func (stringCodec) Encode(b *bytes.Buffer, s string) error {
	_, err := b.WriteString(s)
	return err
}

func (stringCodec) Decode(b []byte) (string, error) {
	return string(b), nil
}

// StringCodec is a convenience Codec for string state.
var StringCodec Codec[string] = stringCodec{}
