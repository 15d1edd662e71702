package keyindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/fsdb/pkg/fs"
)

const (
	flagValid   byte = 1
	flagRemoved byte = 0

	maxFieldLen = math.MaxInt16

	filePerm = 0o644
	dirPerm  = 0o755

	replayBufSize = 1 << 20
)

// Hooks observe index operations. Intended for tests.
type Hooks[K comparable, P Pointer] struct {
	OnGet    func(k K, p P, found bool)
	OnSet    func(k K, p P)
	OnRemove func(k K, p P)
}

// Options configures [Open].
type Options[K comparable, P Pointer] struct {
	// Dir is the directory holding the log. Required; created if missing.
	Dir string

	// Prefix names the log file <Prefix>.pidx. Required.
	Prefix string

	// FS is the filesystem to use. Default [fs.NewReal].
	FS fs.FS

	// DisableLocking skips the <Prefix>.pidx.lock lock file.
	DisableLocking bool

	// Logger receives replay events. Default discards.
	Logger *slog.Logger

	Hooks Hooks[K, P]
}

type entry[P Pointer] struct {
	ptr    P
	offset int64
}

// Index maps keys to pointers.
//
// Reads go to an in-memory mirror and never touch disk. Writes are
// serialized by a single log mutex held for the duration of one write; the
// mirror is updated under the same mutex so [Index.Count] is exact.
//
// An Index is safe for concurrent use by multiple goroutines.
type Index[K comparable, P Pointer] struct {
	opts      Options[K, P]
	keys      KeyCodec[K]
	decodePtr PointerDecoder[P]
	log       *slog.Logger
	lock      *fs.Lock

	mu     sync.Mutex // guards file, length, buf and mirror writes
	file   fs.File
	length int64
	buf    []byte

	mirror sync.Map // K -> entry[P]
	count  atomic.Int64

	closed atomic.Bool
}

// Open opens or creates <Prefix>.pidx in Dir and replays it.
//
// A torn record at the end of the log (a crash during an append) ends the
// replay and is cut off so the next append starts on a record boundary.
//
// Possible errors:
//   - [ErrInvalidInput]: invalid options or nil codec
//   - [ErrBusy]: the index is open elsewhere
//   - [ErrCorrupt]: a complete record does not decode
//   - I/O errors
func Open[K comparable, P Pointer](opts Options[K, P], keys KeyCodec[K], decodePtr PointerDecoder[P]) (*Index[K, P], error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("dir is required: %w", ErrInvalidInput)
	}

	if opts.Prefix == "" || strings.ContainsRune(opts.Prefix, os.PathSeparator) {
		return nil, fmt.Errorf("prefix %q must be a non-empty file name: %w", opts.Prefix, ErrInvalidInput)
	}

	if keys == nil || decodePtr == nil {
		return nil, fmt.Errorf("key codec and pointer decoder are required: %w", ErrInvalidInput)
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	err := opts.FS.MkdirAll(opts.Dir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("creating index dir: %w", err)
	}

	idx := &Index[K, P]{
		opts:      opts,
		keys:      keys,
		decodePtr: decodePtr,
		log:       opts.Logger.With("index", opts.Prefix),
	}

	if !opts.DisableLocking {
		idx.lock, err = fs.NewLocker(opts.FS).TryLock(filepath.Join(opts.Dir, opts.Prefix+".pidx.lock"))
		if err != nil {
			if errors.Is(err, fs.ErrWouldBlock) {
				return nil, fmt.Errorf("%w: %w", ErrBusy, err)
			}

			return nil, fmt.Errorf("locking index: %w", err)
		}
	}

	path := filepath.Join(opts.Dir, opts.Prefix+".pidx")

	idx.file, err = opts.FS.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("opening index log: %w", err), idx.lock.Close())
	}

	err = idx.replay()
	if err != nil {
		return nil, errors.Join(err, idx.file.Close(), idx.lock.Close())
	}

	return idx, nil
}

// replay rebuilds the mirror from the log.
func (idx *Index[K, P]) replay() error {
	info, err := idx.file.Stat()
	if err != nil {
		return fmt.Errorf("stat index log: %w", err)
	}

	size := info.Size()
	r := bufio.NewReaderSize(io.NewSectionReader(idx.file, 0, size), replayBufSize)

	var (
		off     int64
		records int
		removed int
	)

	for off < size {
		valid, key, ptr, n, err := idx.readRecord(r)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("record at offset %d: %w", off, err)
		}

		if valid {
			_, loaded := idx.mirror.Swap(key, entry[P]{ptr: ptr, offset: off})
			if !loaded {
				idx.count.Add(1)
			}
		} else {
			if _, loaded := idx.mirror.LoadAndDelete(key); loaded {
				idx.count.Add(-1)
			}

			removed++
		}

		records++
		off += n
	}

	if off < size {
		idx.log.Warn("dropping torn record at end of index log",
			"offset", off, "bytes", size-off)

		err := idx.file.Truncate(off)
		if err != nil {
			return fmt.Errorf("truncating torn index tail: %w", err)
		}
	}

	idx.length = off

	idx.log.Debug("index replayed",
		"records", records, "removed", removed, "keys", idx.count.Load(), "bytes", off)

	return nil
}

// readRecord reads one record. io.EOF or io.ErrUnexpectedEOF mean the log
// ended before a complete record.
func (idx *Index[K, P]) readRecord(r *bufio.Reader) (bool, K, P, int64, error) {
	var (
		zeroK K
		zeroP P
		hdr   [3]byte
		lenb  [2]byte
	)

	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return false, zeroK, zeroP, 0, err
	}

	keyLen := int16(binary.LittleEndian.Uint16(hdr[1:]))
	if keyLen < 0 {
		return false, zeroK, zeroP, 0, fmt.Errorf("negative key length %d: %w", keyLen, ErrCorrupt)
	}

	keyBuf := make([]byte, keyLen)

	_, err = io.ReadFull(r, keyBuf)
	if err != nil {
		return false, zeroK, zeroP, 0, err
	}

	_, err = io.ReadFull(r, lenb[:])
	if err != nil {
		return false, zeroK, zeroP, 0, err
	}

	ptrLen := int16(binary.LittleEndian.Uint16(lenb[:]))
	if ptrLen < 0 {
		return false, zeroK, zeroP, 0, fmt.Errorf("negative pointer length %d: %w", ptrLen, ErrCorrupt)
	}

	ptrBuf := make([]byte, ptrLen)

	_, err = io.ReadFull(r, ptrBuf)
	if err != nil {
		return false, zeroK, zeroP, 0, err
	}

	key, err := idx.keys.DecodeKey(keyBuf)
	if err != nil {
		return false, zeroK, zeroP, 0, fmt.Errorf("decoding key: %w: %w", ErrCorrupt, err)
	}

	ptr, err := idx.decodePtr(ptrBuf)
	if err != nil {
		return false, zeroK, zeroP, 0, fmt.Errorf("decoding pointer: %w: %w", ErrCorrupt, err)
	}

	n := int64(len(hdr)) + int64(keyLen) + int64(len(lenb)) + int64(ptrLen)

	return hdr[0] != flagRemoved, key, ptr, n, nil
}

// Get returns the pointer stored for k. It never touches disk.
func (idx *Index[K, P]) Get(k K) (P, bool) {
	var (
		p     P
		found bool
	)

	if v, ok := idx.mirror.Load(k); ok && !idx.closed.Load() {
		p, found = v.(entry[P]).ptr, true
	}

	if idx.opts.Hooks.OnGet != nil {
		idx.opts.Hooks.OnGet(k, p, found)
	}

	return p, found
}

// Set appends a record mapping k to p and updates the mirror. Earlier
// records for k are left as they are.
//
// Possible errors:
//   - [ErrInvalidInput]: the encoded key or pointer exceeds 32767 bytes
//   - [ErrClosed]
//   - errors from the codecs and I/O errors
func (idx *Index[K, P]) Set(k K, p P) error {
	if idx.closed.Load() {
		return ErrClosed
	}

	idx.mu.Lock()

	off := idx.length

	err := idx.encode(k, p)
	if err == nil {
		_, err = idx.file.WriteAt(idx.buf, off)
		if err != nil {
			err = fmt.Errorf("appending index record: %w", err)
		}
	}

	if err != nil {
		idx.mu.Unlock()

		return err
	}

	idx.length += int64(len(idx.buf))

	_, loaded := idx.mirror.Swap(k, entry[P]{ptr: p, offset: off})
	if !loaded {
		idx.count.Add(1)
	}

	idx.mu.Unlock()

	if idx.opts.Hooks.OnSet != nil {
		idx.opts.Hooks.OnSet(k, p)
	}

	return nil
}

// encode fills idx.buf with a valid record for k and p. Callers hold mu.
func (idx *Index[K, P]) encode(k K, p P) error {
	b := append(idx.buf[:0], flagValid, 0, 0)

	b, err := idx.keys.AppendKey(b, k)
	if err != nil {
		return fmt.Errorf("encoding key: %w", err)
	}

	keyLen := len(b) - 3
	if keyLen > maxFieldLen {
		return fmt.Errorf("key is %d bytes, max %d: %w", keyLen, maxFieldLen, ErrInvalidInput)
	}

	binary.LittleEndian.PutUint16(b[1:3], uint16(keyLen))

	lenAt := len(b)
	b = append(b, 0, 0)

	b, err = p.AppendBinary(b)
	if err != nil {
		return fmt.Errorf("encoding pointer: %w", err)
	}

	ptrLen := len(b) - lenAt - 2
	if ptrLen > maxFieldLen {
		return fmt.Errorf("pointer is %d bytes, max %d: %w", ptrLen, maxFieldLen, ErrInvalidInput)
	}

	binary.LittleEndian.PutUint16(b[lenAt:], uint16(ptrLen))

	idx.buf = b

	return nil
}

// Remove marks k's latest log record invalid by overwriting its validity
// byte, then drops k from the mirror. Reports whether k was present.
func (idx *Index[K, P]) Remove(k K) (bool, error) {
	if idx.closed.Load() {
		return false, ErrClosed
	}

	idx.mu.Lock()

	v, ok := idx.mirror.Load(k)
	if !ok {
		idx.mu.Unlock()

		return false, nil
	}

	e := v.(entry[P])

	_, err := idx.file.WriteAt([]byte{flagRemoved}, e.offset)
	if err != nil {
		idx.mu.Unlock()

		return false, fmt.Errorf("marking index record at %d removed: %w", e.offset, err)
	}

	idx.mirror.Delete(k)
	idx.count.Add(-1)

	idx.mu.Unlock()

	if idx.opts.Hooks.OnRemove != nil {
		idx.opts.Hooks.OnRemove(k, e.ptr)
	}

	return true, nil
}

// Count returns the number of keys in the mirror.
func (idx *Index[K, P]) Count() int {
	return int(idx.count.Load())
}

// Keys iterates the keys in the mirror in no particular order. Keys set or
// removed during iteration may or may not be seen.
func (idx *Index[K, P]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		idx.mirror.Range(func(k, _ any) bool {
			return yield(k.(K))
		})
	}
}

// All iterates keys with their pointers in no particular order.
func (idx *Index[K, P]) All() iter.Seq2[K, P] {
	return func(yield func(K, P) bool) {
		idx.mirror.Range(func(k, v any) bool {
			return yield(k.(K), v.(entry[P]).ptr)
		})
	}
}

// Size returns the length of the log in bytes.
func (idx *Index[K, P]) Size() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.length
}

// Flush commits the log to stable storage.
func (idx *Index[K, P]) Flush() error {
	if idx.closed.Load() {
		return ErrClosed
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.file.Sync()
	if err != nil {
		return fmt.Errorf("syncing index log: %w", err)
	}

	return nil
}

// Close flushes and closes the log and releases the lock file.
//
// Returns [ErrClosed] if already closed.
func (idx *Index[K, P]) Close() error {
	if idx.closed.Swap(true) {
		return ErrClosed
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var errs []error

	err := idx.file.Sync()
	if err != nil {
		errs = append(errs, fmt.Errorf("syncing index log: %w", err))
	}

	err = idx.file.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("closing index log: %w", err))
	}

	errs = append(errs, idx.lock.Close())

	return errors.Join(errs...)
}
