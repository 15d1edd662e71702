package blobstore

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/fsdb/pkg/fs"
)

// Hooks observe reads and writes. They run after the file lock is released
// and must not call back into the [Store]. Intended for tests.
type Hooks struct {
	// OnWrite is called with the pointer and payload of every record written.
	OnWrite func(p Ptr, data []byte)

	// OnRead is called for every record loaded. data is nil when the record
	// failed verification.
	OnRead func(p Ptr, data []byte)
}

// Options configures [Open].
type Options struct {
	// Dir is the directory holding the data files. Required; created if
	// missing.
	Dir string

	// Prefix names the data files: <Prefix>_0000.db, <Prefix>_0001.db, ...
	// Required. Must not contain a path separator.
	Prefix string

	// MinRecordLen is the smallest slot capacity and the base of the bucket
	// sequence (see [CapacityFor]). Default [DefaultMinRecordLen].
	MinRecordLen int

	// MaxFileLength is the file size past which appends go to a new file.
	// Default [DefaultMaxFileLength].
	MaxFileLength int64

	// FS is the filesystem to use. Default [fs.NewReal].
	FS fs.FS

	// DisableLocking skips the <Prefix>.db.lock lock file. The caller MUST
	// make sure no other process opens the same files.
	DisableLocking bool

	// Logger receives shard lifecycle events. Default discards.
	Logger *slog.Logger

	Hooks Hooks
}

func (o Options) withDefaults() (Options, error) {
	if o.Dir == "" {
		return o, fmt.Errorf("dir is required: %w", ErrInvalidInput)
	}

	if o.Prefix == "" || strings.ContainsRune(o.Prefix, os.PathSeparator) {
		return o, fmt.Errorf("prefix %q must be a non-empty file name: %w", o.Prefix, ErrInvalidInput)
	}

	if o.MinRecordLen == 0 {
		o.MinRecordLen = DefaultMinRecordLen
	}

	if o.MinRecordLen < 1 || o.MinRecordLen > maxCapacity {
		return o, fmt.Errorf("min_record_len must be in [1, %d], got %d: %w", maxCapacity, o.MinRecordLen, ErrInvalidInput)
	}

	if o.MaxFileLength == 0 {
		o.MaxFileLength = DefaultMaxFileLength
	}

	if o.MaxFileLength < 0 {
		return o, fmt.Errorf("max_file_length must be >= 0, got %d: %w", o.MaxFileLength, ErrInvalidInput)
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	return o, nil
}

// Stats describes the data files of a [Store].
type Stats struct {
	// Files is the number of open data files.
	Files int

	// Bytes is the sum of the files' logical lengths, including slot stubs.
	Bytes int64
}

// dbFile is one open data file. mu serializes all I/O on the file and
// guards length.
type dbFile struct {
	mu     sync.Mutex
	id     uint16
	file   fs.File
	length int64
}

// Store is a record store over a set of data files.
//
// A Store is safe for concurrent use by multiple goroutines.
type Store struct {
	opts Options
	log  *slog.Logger
	lock *fs.Lock

	// filesMu guards the files slice. Lock order: filesMu, then dbFile.mu.
	filesMu sync.RWMutex
	files   []*dbFile

	closed atomic.Bool
}

// Open opens the data files <Prefix>_0000.db, <Prefix>_0001.db, ... in
// Dir, stopping at the first missing one, and creates file 0 if absent.
//
// Unless [Options.DisableLocking] is set, Open takes an exclusive lock on
// <Prefix>.db.lock for the lifetime of the Store and fails with [ErrBusy]
// if another handle holds it.
//
// Possible errors:
//   - [ErrInvalidInput]: invalid options
//   - [ErrBusy]: the store is open elsewhere
//   - I/O errors from creating the directory or opening files
func Open(opts Options) (*Store, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	err = opts.FS.MkdirAll(opts.Dir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	s := &Store{
		opts: opts,
		log:  opts.Logger.With("store", opts.Prefix),
	}

	if !opts.DisableLocking {
		s.lock, err = fs.NewLocker(opts.FS).TryLock(filepath.Join(opts.Dir, opts.Prefix+".db.lock"))
		if err != nil {
			if errors.Is(err, fs.ErrWouldBlock) {
				return nil, fmt.Errorf("%w: %w", ErrBusy, err)
			}

			return nil, fmt.Errorf("locking store: %w", err)
		}
	}

	for id := 0; id <= maxFileID; id++ {
		if id > 0 {
			exists, err := opts.FS.Exists(s.filePath(uint16(id)))
			if err != nil {
				return nil, errors.Join(fmt.Errorf("probing data file %d: %w", id, err), s.closeFiles())
			}

			if !exists {
				break
			}
		}

		f, err := s.openFile(uint16(id))
		if err != nil {
			return nil, errors.Join(err, s.closeFiles())
		}

		s.files = append(s.files, f)
	}

	s.log.Debug("store opened", "files", len(s.files), "dir", opts.Dir)

	return s, nil
}

func (s *Store) filePath(id uint16) string {
	return filepath.Join(s.opts.Dir, fmt.Sprintf("%s_%04d.db", s.opts.Prefix, id))
}

func (s *Store) openFile(id uint16) (*dbFile, error) {
	path := s.filePath(id)

	file, err := s.opts.FS.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("stat data file: %w", err)
	}

	s.log.Info("data file opened", "file", id, "path", path, "length", info.Size())

	return &dbFile{id: id, file: file, length: info.Size()}, nil
}

// Save writes data and returns its pointer.
//
// If prev is non-zero and data fits prev's capacity, the record is
// rewritten in place and prev is returned. Otherwise a new slot is
// appended to the last data file. Appending never fails for lack of room
// in an old slot; the caller just gets a different pointer back.
//
// Possible errors:
//   - [ErrInvalidPointer]: prev is non-zero but was not produced by this store
//   - [ErrTooLarge]: data does not fit the largest slot capacity
//   - [ErrStoreFull]: a new data file was needed and could not be opened
//   - [ErrClosed]
//   - I/O errors from the write
func (s *Store) Save(data []byte, prev Ptr) (Ptr, error) {
	if s.closed.Load() {
		return Ptr{}, ErrClosed
	}

	if !prev.IsZero() {
		f, err := s.fileFor(prev)
		if err != nil {
			return Ptr{}, err
		}

		if len(data) <= int(prev.Capacity) {
			ok, err := s.writeInPlace(f, prev, data)
			if err != nil {
				return Ptr{}, err
			}

			if ok {
				return prev, nil
			}
		}
	}

	capacity, err := CapacityFor(len(data), s.opts.MinRecordLen)
	if err != nil {
		return Ptr{}, err
	}

	var out [1]Ptr

	err = s.appendBatch([]SaveItem{{Data: data}}, []pending{{idx: 0, capacity: capacity}}, out[:])
	if err != nil {
		return Ptr{}, err
	}

	return out[0], nil
}

// writeInPlace rewrites the record at p. It reports false without writing
// when the slot lies beyond the file's end, which only happens for a pointer
// into a file that was truncated behind the store's back.
func (s *Store) writeInPlace(f *dbFile, p Ptr, data []byte) (bool, error) {
	rec := appendRecord(make([]byte, 0, overhead+len(data)), data)

	f.mu.Lock()

	if int64(p.Position)+slotSize(p.Capacity) > f.length {
		length := f.length
		f.mu.Unlock()

		s.log.Warn("slot lies beyond end of file, appending instead",
			"ptr", p.String(), "file_length", length)

		return false, nil
	}

	_, err := f.file.WriteAt(rec, int64(p.Position))
	f.mu.Unlock()

	if err != nil {
		return false, fmt.Errorf("rewriting record %s: %w", p, err)
	}

	if s.opts.Hooks.OnWrite != nil {
		s.opts.Hooks.OnWrite(p, data)
	}

	return true, nil
}

// Load reads the record at p.
//
// Returns (nil, nil) if the record fails verification: the stored length
// is negative or larger than p's capacity, the slot is cut short by the end
// of the file, or the MD5 of the payload does not match.
//
// Possible errors:
//   - [ErrInvalidPointer]: p was not produced by this store
//   - [ErrClosed]
//   - I/O errors from the read
func (s *Store) Load(p Ptr) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	f, err := s.fileFor(p)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := readRecord(f.file, p)
	f.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", p, err)
	}

	if s.opts.Hooks.OnRead != nil {
		s.opts.Hooks.OnRead(p, data)
	}

	return data, nil
}

// Flush commits every data file to stable storage.
func (s *Store) Flush() error {
	if s.closed.Load() {
		return ErrClosed
	}

	for _, f := range s.snapshot() {
		f.mu.Lock()

		if s.closed.Load() {
			f.mu.Unlock()

			return ErrClosed
		}

		err := f.file.Sync()
		f.mu.Unlock()

		if err != nil {
			return fmt.Errorf("syncing data file %d: %w", f.id, err)
		}
	}

	return nil
}

// Stats returns the current file count and total logical length.
func (s *Store) Stats() Stats {
	files := s.snapshot()
	st := Stats{Files: len(files)}

	for _, f := range files {
		f.mu.Lock()
		st.Bytes += f.length
		f.mu.Unlock()
	}

	return st
}

// Close flushes and closes all data files and releases the lock file.
//
// Returns [ErrClosed] if already closed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}

	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	var errs []error

	for _, f := range s.files {
		f.mu.Lock()

		err := f.file.Sync()
		if err != nil {
			errs = append(errs, fmt.Errorf("syncing data file %d: %w", f.id, err))
		}

		f.mu.Unlock()
	}

	errs = append(errs, s.closeFiles())

	return errors.Join(errs...)
}

// closeFiles closes every open file and the lock. Callers hold filesMu or
// have exclusive access to s.
func (s *Store) closeFiles() error {
	var errs []error

	for _, f := range s.files {
		f.mu.Lock()

		err := f.file.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("closing data file %d: %w", f.id, err))
		}

		f.mu.Unlock()
	}

	s.files = nil

	err := s.lock.Close()
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// fileFor returns the data file p points into.
func (s *Store) fileFor(p Ptr) (*dbFile, error) {
	if p.Capacity == 0 || p.Capacity > maxCapacity || p.Position > uint64(math.MaxInt64-slotSize(p.Capacity)) {
		return nil, fmt.Errorf("%s: %w", p, ErrInvalidPointer)
	}

	s.filesMu.RLock()
	defer s.filesMu.RUnlock()

	if int(p.FileID) >= len(s.files) {
		return nil, fmt.Errorf("%s: file %d not open: %w", p, p.FileID, ErrInvalidPointer)
	}

	return s.files[p.FileID], nil
}

// snapshot returns a copy of the file list. The list only grows, so the
// copy stays valid for as long as the store is open.
func (s *Store) snapshot() []*dbFile {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()

	return slices.Clone(s.files)
}

// lockLast returns the last data file with its mutex held, first starting a
// new file if the last one has grown past MaxFileLength.
//
// filesMu is never held while waiting for a file's mutex. A file whose
// length is at most MaxFileLength is always the last one: lengths only grow
// and a new file is started only once the previous one is past the cap.
func (s *Store) lockLast() (*dbFile, error) {
	for {
		s.filesMu.RLock()

		if len(s.files) == 0 {
			s.filesMu.RUnlock()

			return nil, ErrClosed
		}

		last := s.files[len(s.files)-1]
		s.filesMu.RUnlock()

		last.mu.Lock()

		if s.closed.Load() {
			last.mu.Unlock()

			return nil, ErrClosed
		}

		if last.length <= s.opts.MaxFileLength {
			return last, nil
		}

		last.mu.Unlock()

		err := s.rollover(last)
		if err != nil {
			return nil, err
		}
	}
}

// rollover opens the file after full unless another caller already did.
func (s *Store) rollover(full *dbFile) error {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	if len(s.files) == 0 {
		return ErrClosed
	}

	if s.files[len(s.files)-1] != full {
		return nil
	}

	if full.id >= maxFileID {
		return fmt.Errorf("file id %d is the last one: %w", full.id, ErrStoreFull)
	}

	next, err := s.openFile(full.id + 1)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFull, err)
	}

	s.files = append(s.files, next)

	s.log.Info("rolled over to new data file", "file", next.id, "previous_file", full.id)

	return nil
}

// appendRecord appends [len][payload][md5] to b.
func appendRecord(b []byte, data []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	b = append(b, data...)
	sum := md5.Sum(data)

	return append(b, sum[:]...)
}

// appendStub appends n zero bytes to b.
func appendStub(b []byte, n int) []byte {
	b = slices.Grow(b, n)
	b = b[:len(b)+n]
	clear(b[len(b)-n:])

	return b
}

// readRecord reads and verifies the record at p. A record that fails
// verification yields (nil, nil).
func readRecord(r io.ReaderAt, p Ptr) ([]byte, error) {
	var hdr [lenSize]byte

	_, err := r.ReadAt(hdr[:], int64(p.Position))
	if err != nil {
		if isShortRead(err) {
			return nil, nil
		}

		return nil, err
	}

	n := int32(binary.LittleEndian.Uint32(hdr[:]))
	if n < 0 || uint32(n) > p.Capacity {
		return nil, nil
	}

	buf := make([]byte, int(n)+hashSize)

	_, err = r.ReadAt(buf, int64(p.Position)+lenSize)
	if err != nil {
		if isShortRead(err) {
			return nil, nil
		}

		return nil, err
	}

	return verify(buf[:n:n], buf[n:]), nil
}

// parseRecord decodes and verifies a record at the start of b, which may
// be cut short. The payload is copied out of b.
func parseRecord(b []byte, capacity uint32) []byte {
	if len(b) < lenSize {
		return nil
	}

	n := int32(binary.LittleEndian.Uint32(b))
	if n < 0 || uint32(n) > capacity || len(b) < overhead+int(n) {
		return nil
	}

	payload := b[lenSize : lenSize+int(n)]

	if verify(payload, b[lenSize+int(n):overhead+int(n)]) == nil {
		return nil
	}

	return bytes.Clone(payload)
}

func verify(payload, sum []byte) []byte {
	got := md5.Sum(payload)
	if !bytes.Equal(got[:], sum) {
		return nil
	}

	return payload
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
