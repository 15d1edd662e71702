package keyindex

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Pointer is the capability an index needs from a storage pointer: value
// equality and a binary form.
type Pointer interface {
	comparable
	AppendBinary(b []byte) ([]byte, error)
}

// PointerDecoder decodes the form produced by [Pointer.AppendBinary].
type PointerDecoder[P Pointer] func(b []byte) (P, error)

// KeyCodec converts keys to and from their log encoding.
type KeyCodec[K comparable] interface {
	AppendKey(b []byte, k K) ([]byte, error)
	DecodeKey(b []byte) (K, error)
}

var (
	// StringKeys stores string keys as their raw bytes.
	StringKeys KeyCodec[string] = stringCodec{}

	// Int32Keys stores int32 keys as 4 little-endian bytes.
	Int32Keys KeyCodec[int32] = int32Codec{}

	// Int64Keys stores int64 keys as 8 little-endian bytes.
	Int64Keys KeyCodec[int64] = int64Codec{}

	// UUIDKeys stores UUID keys as their 16 raw bytes.
	UUIDKeys KeyCodec[uuid.UUID] = uuidCodec{}
)

type stringCodec struct{}

func (stringCodec) AppendKey(b []byte, k string) ([]byte, error) { return append(b, k...), nil }

func (stringCodec) DecodeKey(b []byte) (string, error) { return string(b), nil }

type int32Codec struct{}

func (int32Codec) AppendKey(b []byte, k int32) ([]byte, error) {
	return binary.LittleEndian.AppendUint32(b, uint32(k)), nil
}

func (int32Codec) DecodeKey(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("int32 key has %d bytes", len(b))
	}

	return int32(binary.LittleEndian.Uint32(b)), nil
}

type int64Codec struct{}

func (int64Codec) AppendKey(b []byte, k int64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(b, uint64(k)), nil
}

func (int64Codec) DecodeKey(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("int64 key has %d bytes", len(b))
	}

	return int64(binary.LittleEndian.Uint64(b)), nil
}

type uuidCodec struct{}

func (uuidCodec) AppendKey(b []byte, k uuid.UUID) ([]byte, error) { return append(b, k[:]...), nil }

func (uuidCodec) DecodeKey(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) }
