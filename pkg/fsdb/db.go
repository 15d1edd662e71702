// Package fsdb is an embedded key-value store over the local filesystem.
//
// A [DB] binds a [blobstore.Store], which keeps values in capacity-bucketed
// slots across numbered data files, to a [keyindex.Index], which maps each
// key to the pointer of its current slot. Saving a key whose new value
// still fits its slot rewrites the slot in place; otherwise the value is
// appended and the key re-pointed. Old slots are never reclaimed.
//
// Missing and corrupt values look the same: both read back as nil.
//
// Example:
//
//	db, err := fsdb.Open(fsdb.Config{Dir: dir}, keyindex.StringKeys)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Save("greeting", []byte("hello"))
//	v, err := db.Get("greeting")
package fsdb

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/calvinalkan/fsdb/pkg/blobstore"
	"github.com/calvinalkan/fsdb/pkg/keyindex"
)

// Options configures [New].
type Options struct {
	// BatchSizeMB is the default chunk size of batched operations.
	// Default [DefaultBatchSizeMB].
	BatchSizeMB int

	// Compress stores values zstd-compressed.
	Compress bool

	// Logger defaults to discarding.
	Logger *slog.Logger
}

// Entry is one key-value pair of [DB.SaveBatch].
type Entry[K comparable] struct {
	Key   K
	Value []byte
}

// Stats describes a [DB].
type Stats struct {
	Keys       int
	IndexBytes int64
	Store      blobstore.Stats
}

// DB is an indexed key-value store. It is safe for concurrent use; writes
// to distinct keys never lose each other's updates. Concurrent writes to
// the same key race, and the one whose index record is appended last wins.
type DB[K comparable] struct {
	store *blobstore.Store
	index *keyindex.Index[K, blobstore.Ptr]
	codec *valueCodec
	log   *slog.Logger

	batchBytes int64
}

// New binds an open store and index. The DB takes ownership of both and
// closes them in [DB.Close].
func New[K comparable](store *blobstore.Store, index *keyindex.Index[K, blobstore.Ptr], opts Options) (*DB[K], error) {
	if store == nil || index == nil {
		return nil, fmt.Errorf("store and index are required: %w", ErrInvalidInput)
	}

	if opts.BatchSizeMB == 0 {
		opts.BatchSizeMB = DefaultBatchSizeMB
	}

	if opts.BatchSizeMB < 0 {
		return nil, fmt.Errorf("batch_size_mb must be > 0, got %d: %w", opts.BatchSizeMB, ErrInvalidInput)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	db := &DB[K]{
		store:      store,
		index:      index,
		log:        opts.Logger,
		batchBytes: int64(opts.BatchSizeMB) << 20,
	}

	if opts.Compress {
		codec, err := newValueCodec()
		if err != nil {
			return nil, fmt.Errorf("creating zstd codec: %w", err)
		}

		db.codec = codec
	}

	return db, nil
}

// Open opens (or creates) the store <Prefix>_NNNN.db and the index
// <Prefix>.pidx in cfg.Dir.
func Open[K comparable](cfg Config, keys keyindex.KeyCodec[K]) (*DB[K], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	store, err := blobstore.Open(cfg.storeOptions())
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	index, err := keyindex.Open(keyindex.Options[K, blobstore.Ptr]{
		Dir:            cfg.Dir,
		Prefix:         cfg.Prefix,
		FS:             cfg.FS,
		DisableLocking: cfg.DisableLocking,
		Logger:         cfg.Logger,
	}, keys, blobstore.DecodePtr)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("opening index: %w", err), store.Close())
	}

	db, err := New(store, index, Options{
		BatchSizeMB: cfg.BatchSizeMB,
		Compress:    cfg.Compress,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, index.Close(), store.Close())
	}

	cfg.Logger.Debug("database opened", "dir", cfg.Dir, "prefix", cfg.Prefix, "keys", index.Count())

	return db, nil
}

// Get returns the value stored for k, or nil if k is absent or its record
// fails verification.
func (db *DB[K]) Get(k K) ([]byte, error) {
	p, ok := db.index.Get(k)
	if !ok {
		return nil, nil
	}

	data, err := db.store.Load(p)
	if err != nil {
		return nil, err
	}

	return db.decode(data), nil
}

// Contains reports whether k is in the index. The record itself is not
// read or verified.
func (db *DB[K]) Contains(k K) bool {
	_, ok := db.index.Get(k)

	return ok
}

// Save stores v under k, reusing k's slot when v fits it.
func (db *DB[K]) Save(k K, v []byte) error {
	prev, _ := db.index.Get(k)

	p, err := db.store.Save(db.encode(v), prev)
	if err != nil {
		return err
	}

	return db.index.Set(k, p)
}

// Remove drops k from the index and reports whether it was present. The
// record's bytes stay on disk.
func (db *DB[K]) Remove(k K) (bool, error) {
	return db.index.Remove(k)
}

// Count returns the number of keys.
func (db *DB[K]) Count() int {
	return db.index.Count()
}

// Keys iterates all keys in no particular order.
func (db *DB[K]) Keys() iter.Seq[K] {
	return db.index.Keys()
}

// Stats returns key, index and store statistics.
func (db *DB[K]) Stats() Stats {
	return Stats{
		Keys:       db.index.Count(),
		IndexBytes: db.index.Size(),
		Store:      db.store.Stats(),
	}
}

// Flush commits the index log, then the data files, to stable storage.
func (db *DB[K]) Flush() error {
	err := db.index.Flush()
	if err != nil {
		return err
	}

	return db.store.Flush()
}

// Close closes the index, then the store.
func (db *DB[K]) Close() error {
	errs := []error{db.index.Close(), db.store.Close()}

	if db.codec != nil {
		errs = append(errs, db.codec.close())
	}

	return errors.Join(errs...)
}

func (db *DB[K]) encode(v []byte) []byte {
	if db.codec == nil {
		return v
	}

	return db.codec.encode(v)
}

func (db *DB[K]) decode(data []byte) []byte {
	if db.codec == nil || data == nil {
		return data
	}

	return db.codec.decode(data)
}
