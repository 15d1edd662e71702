package keyindex

import "errors"

// Sentinel errors returned by keyindex operations.
var (
	// ErrInvalidInput indicates invalid options, or a key or pointer whose
	// encoding does not fit the log's int16 length fields.
	ErrInvalidInput = errors.New("keyindex: invalid input")

	// ErrCorrupt indicates a complete log record that cannot be decoded.
	//
	// Recovery: restore the log from a backup or delete it and rebuild the
	// index.
	ErrCorrupt = errors.New("keyindex: corrupt log")

	// ErrBusy indicates another process holds the index's lock file.
	ErrBusy = errors.New("keyindex: busy")

	// ErrClosed indicates the [Index] has already been closed.
	ErrClosed = errors.New("keyindex: closed")
)
