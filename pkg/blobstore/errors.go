package blobstore

import "errors"

// Sentinel errors returned by blobstore operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrInvalidInput indicates invalid options or arguments.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("blobstore: invalid input")

	// ErrInvalidPointer indicates a pointer this store did not produce: the
	// zero [Ptr], a file id that is not open, a capacity no bucket yields,
	// or bytes that do not decode as a pointer.
	ErrInvalidPointer = errors.New("blobstore: invalid pointer")

	// ErrTooLarge indicates a payload whose slot capacity would not fit the
	// int32 length field of the on-disk format.
	ErrTooLarge = errors.New("blobstore: record too large")

	// ErrStoreFull indicates the next data file could not be opened, either
	// because the file id space is exhausted or because of an I/O failure.
	//
	// This is fatal for appends; the store does not retry.
	ErrStoreFull = errors.New("blobstore: cannot open next data file")

	// ErrBusy indicates another process holds the store's lock file.
	ErrBusy = errors.New("blobstore: busy")

	// ErrClosed indicates the [Store] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("blobstore: closed")
)
