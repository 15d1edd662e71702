package blobstore

import "math"

const (
	// DefaultMinRecordLen is the smallest slot capacity.
	DefaultMinRecordLen = 100

	// DefaultMaxFileLength is the size past which a new data file is started.
	DefaultMaxFileLength = int64(4) << 30 // 4 GiB

	// PtrSize is the encoded size of a [Ptr].
	PtrSize = 4 + 2 + 8

	lenSize  = 4
	hashSize = 16

	// overhead is the per-slot space outside the capacity.
	overhead = lenSize + hashSize

	maxCapacity = math.MaxInt32

	// Largest contiguous span written or read in a single call by the batch
	// paths.
	maxIOChunk = 64 << 20 // 64 MiB

	// Largest run of unrequested bytes a batch read spans to reach the next
	// record; wider gaps start a new read.
	maxReadGap = 4 << 10 // 4 KiB

	// Largest file id; ids are stored as int16.
	maxFileID = math.MaxInt16

	filePerm = 0o644
	dirPerm  = 0o755
)
