package fsdb

import (
	"fmt"
	"log/slog"

	"github.com/calvinalkan/fsdb/pkg/blobstore"
	"github.com/calvinalkan/fsdb/pkg/fs"
)

const (
	// DefaultPrefix names the data and index files when [Config.Prefix] is
	// empty.
	DefaultPrefix = "fsdb"

	// DefaultBatchSizeMB caps the bytes handled per chunk by [DB.GetBatch]
	// and [DB.SaveBatch].
	DefaultBatchSizeMB = 1024
)

// Config configures [Open]. It is fixed for the lifetime of a [DB].
type Config struct {
	// Dir holds the data files and the index log. Required.
	Dir string

	// Prefix names the files: <Prefix>_NNNN.db and <Prefix>.pidx.
	// Default [DefaultPrefix].
	Prefix string

	// MinRecordLen is the smallest slot capacity. Default
	// [blobstore.DefaultMinRecordLen].
	MinRecordLen int

	// MaxFileLength is the data file size past which a new file is started.
	// Default [blobstore.DefaultMaxFileLength].
	MaxFileLength int64

	// BatchSizeMB is the default chunk size, in MiB, of batched reads and
	// writes. Default [DefaultBatchSizeMB].
	BatchSizeMB int

	// Compress stores values zstd-compressed. It must not change between
	// opens of the same directory: values written with the other setting
	// read back as nil.
	Compress bool

	// FS is the filesystem to use. Default [fs.NewReal].
	FS fs.FS

	// DisableLocking skips the lock files of the store and the index.
	DisableLocking bool

	// Logger receives events from all layers. Default discards.
	Logger *slog.Logger
}

func (c Config) withDefaults() (Config, error) {
	if c.Dir == "" {
		return c, fmt.Errorf("dir is required: %w", ErrInvalidInput)
	}

	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}

	if c.BatchSizeMB == 0 {
		c.BatchSizeMB = DefaultBatchSizeMB
	}

	if c.BatchSizeMB < 0 {
		return c, fmt.Errorf("batch_size_mb must be > 0, got %d: %w", c.BatchSizeMB, ErrInvalidInput)
	}

	if c.FS == nil {
		c.FS = fs.NewReal()
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	return c, nil
}

func (c Config) storeOptions() blobstore.Options {
	return blobstore.Options{
		Dir:            c.Dir,
		Prefix:         c.Prefix,
		MinRecordLen:   c.MinRecordLen,
		MaxFileLength:  c.MaxFileLength,
		FS:             c.FS,
		DisableLocking: c.DisableLocking,
		Logger:         c.Logger,
	}
}
