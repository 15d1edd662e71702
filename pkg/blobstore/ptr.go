package blobstore

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Ptr locates a record: the slot's usable capacity, the data file it lives
// in and its byte offset in that file.
//
// Ptr is a comparable value type. The zero Ptr means "no record".
type Ptr struct {
	Capacity uint32
	FileID   uint16
	Position uint64
}

// IsZero reports whether p is the zero pointer.
func (p Ptr) IsZero() bool { return p == Ptr{} }

// AppendBinary appends the 14-byte little-endian encoding of p:
// [int32 capacity][int16 file id][int64 position].
func (p Ptr) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, p.Capacity)
	b = binary.LittleEndian.AppendUint16(b, p.FileID)
	b = binary.LittleEndian.AppendUint64(b, p.Position)

	return b, nil
}

// String renders p as (file,position,capacity).
func (p Ptr) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.FileID, p.Position, p.Capacity)
}

// DecodePtr decodes the form produced by [Ptr.AppendBinary].
//
// Returns [ErrInvalidPointer] if b is not exactly [PtrSize] bytes or if a
// field is out of the range the writer can produce.
func DecodePtr(b []byte) (Ptr, error) {
	if len(b) != PtrSize {
		return Ptr{}, fmt.Errorf("pointer length %d, want %d: %w", len(b), PtrSize, ErrInvalidPointer)
	}

	p := Ptr{
		Capacity: binary.LittleEndian.Uint32(b[0:4]),
		FileID:   binary.LittleEndian.Uint16(b[4:6]),
		Position: binary.LittleEndian.Uint64(b[6:14]),
	}

	if p.Capacity > maxCapacity || p.FileID > maxFileID || p.Position > 1<<63-1 {
		return Ptr{}, fmt.Errorf("pointer %s out of range: %w", p, ErrInvalidPointer)
	}

	return p, nil
}

// CapacityFor returns the slot capacity for a payload of length bytes:
//
//	minRecordLen * 2^k, k = ceil(log2(length/minRecordLen + 1))
//
// using integer division, so with minRecordLen=100 lengths 0..99 get 100,
// 100..199 get 200 and 200..399 get 400. The result is always greater than
// length.
func CapacityFor(length, minRecordLen int) (uint32, error) {
	if length < 0 || minRecordLen < 1 {
		return 0, fmt.Errorf("length=%d min_record_len=%d: %w", length, minRecordLen, ErrInvalidInput)
	}

	k := bits.Len(uint(length / minRecordLen))

	if k >= 31 || minRecordLen > maxCapacity>>k {
		return 0, fmt.Errorf("length %d: %w", length, ErrTooLarge)
	}

	return uint32(minRecordLen << k), nil
}

// slotSize returns the on-disk footprint of a slot with the given capacity.
func slotSize(capacity uint32) int64 {
	return int64(capacity) + overhead
}
