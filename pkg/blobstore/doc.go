// Package blobstore stores variable-length byte blobs in a set of
// append-growing files and hands back a [Ptr] for each one.
//
// Each record occupies a fixed slot:
//
//	[int32 length][payload][16-byte MD5 of payload][stub up to capacity]
//
// The slot capacity is chosen from a geometric bucket sequence (see
// [CapacityFor]) so a record that grows a little can be rewritten in place
// instead of being appended again. Slots are never freed or compacted.
//
// Files are named <prefix>_0000.db, <prefix>_0001.db, ... A new file is
// started once the last one grows past [Options.MaxFileLength]; a record
// never spans two files.
//
// Every open file has its own mutex, held only for one read or write, so
// operations on different files never contend. A second lock guards the
// file list itself so that rollover is atomic with respect to appenders. It
// is held only to look up or add a file, never while waiting for a file's
// mutex or doing I/O on an existing file.
//
// Integrity failures (checksum mismatch, a stored length larger than the
// slot, a slot cut short by end of file) are not errors: [Store.Load]
// returns a nil slice. Callers cannot tell "corrupt" from "pointer into
// garbage", and should treat both like a missing value.
//
// Example:
//
//	st, err := blobstore.Open(blobstore.Options{Dir: dir, Prefix: "data"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	p, err := st.Save([]byte("hello"), blobstore.Ptr{})
//	...
//	p, err = st.Save([]byte("hello, world"), p) // same slot if it fits
//	data, err := st.Load(p)
package blobstore
