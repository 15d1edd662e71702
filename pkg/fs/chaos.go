package fs

import (
	"errors"
	iofs "io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint32

const (
	// ChaosModeActive injects faults according to [ChaosConfig]. Default.
	ChaosModeActive ChaosMode = iota
	// ChaosModeNoOp passes every operation to the wrapped [FS].
	ChaosModeNoOp
)

// ChaosConfig sets per-operation fault probabilities in [0, 1].
type ChaosConfig struct {
	OpenFailRate     float64
	ReadFailRate     float64
	WriteFailRate    float64
	PartialWriteRate float64
	SyncFailRate     float64
	TruncateFailRate float64
	StatFailRate     float64
	MkdirAllFailRate float64
	AtomicWriteRate  float64
	RemoveFailRate   float64
}

// ChaosStats counts injected faults.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	WriteFails    int64
	PartialWrites int64
	SyncFails     int64
	TruncateFails int64
	StatFails     int64
	MkdirAllFails int64
	AtomicFails   int64
	RemoveFails   int64
}

// Total returns the sum of all counters.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.WriteFails + s.PartialWrites + s.SyncFails +
		s.TruncateFails + s.StatFails + s.MkdirAllFails + s.AtomicFails + s.RemoveFails
}

// chaosError marks an error as injected so tests can tell it apart from a
// real filesystem failure.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string { return e.Err.Error() }

func (e *chaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err (or anything it wraps) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var ce *chaosError

	return errors.As(err, &ce)
}

// Chaos wraps an [FS] and injects I/O failures for testing.
//
// Injected errors look like real ones: they are [*iofs.PathError] values
// carrying an errno (EIO, ENOSPC, ...), so errors.Is and os.IsPermission keep
// working. Chaos never injects ENOENT; missing paths come from the wrapped FS.
//
// Partial writes write a prefix of the buffer through WriteAt and return a
// non-nil error, which is what a torn append looks like on disk.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	openFails     atomic.Int64
	readFails     atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	syncFails     atomic.Int64
	truncateFails atomic.Int64
	statFails     atomic.Int64
	mkdirAllFails atomic.Int64
	atomicFails   atomic.Int64
	removeFails   atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping underlying. The seed
// makes fault injection reproducible. Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// SetMode switches between [ChaosModeActive] and [ChaosModeNoOp]. Safe for
// concurrent use.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		SyncFails:     c.syncFails.Load(),
		TruncateFails: c.truncateFails.Load(),
		StatFails:     c.statFails.Load(),
		MkdirAllFails: c.mkdirAllFails.Load(),
		AtomicFails:   c.atomicFails.Load(),
		RemoveFails:   c.removeFails.Load(),
	}
}

func (c *Chaos) Open(path string) (File, error) {
	if err := c.inject(c.config.OpenFailRate, &c.openFails, "open", path, syscall.EACCES, syscall.EMFILE, syscall.EIO); err != nil {
		return nil, err
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := c.inject(c.config.OpenFailRate, &c.openFails, "open", path, syscall.EACCES, syscall.EMFILE, syscall.ENOSPC, syscall.EIO); err != nil {
		return nil, err
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.inject(c.config.ReadFailRate, &c.readFails, "read", path, syscall.EIO); err != nil {
		return nil, err
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte) error {
	if err := c.inject(c.config.AtomicWriteRate, &c.atomicFails, "rename", path, syscall.EIO, syscall.ENOSPC, syscall.EROFS); err != nil {
		return err
	}

	return c.fs.WriteFileAtomic(path, data)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if err := c.inject(c.config.MkdirAllFailRate, &c.mkdirAllFails, "mkdirall", path, syscall.EACCES, syscall.ENOSPC, syscall.EROFS); err != nil {
		return err
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.inject(c.config.StatFailRate, &c.statFails, "stat", path, syscall.EACCES, syscall.EIO); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.inject(c.config.StatFailRate, &c.statFails, "stat", path, syscall.EACCES, syscall.EIO); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if err := c.inject(c.config.RemoveFailRate, &c.removeFails, "remove", path, syscall.EACCES, syscall.EBUSY, syscall.EIO); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

// inject returns an injected error with probability rate.
func (c *Chaos) inject(rate float64, counter *atomic.Int64, op, path string, errnos ...syscall.Errno) error {
	if ChaosMode(c.mode.Load()) != ChaosModeActive || rate <= 0 {
		return nil
	}

	c.rngMu.Lock()
	hit := c.rng.Float64() < rate
	errno := errnos[c.rng.IntN(len(errnos))]
	c.rngMu.Unlock()

	if !hit {
		return nil
	}

	counter.Add(1)

	return &chaosError{Err: &iofs.PathError{Op: op, Path: path, Err: errno}}
}

func (c *Chaos) cut(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.IntN(n-1) + 1
}

// chaosFile wraps a [File] and injects faults on reads, writes and syncs.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

var _ File = (*chaosFile)(nil)

func (cf *chaosFile) Read(buf []byte) (int, error) {
	if err := cf.chaos.inject(cf.chaos.config.ReadFailRate, &cf.chaos.readFails, "read", cf.path, syscall.EIO); err != nil {
		return 0, err
	}

	return cf.f.Read(buf)
}

func (cf *chaosFile) ReadAt(buf []byte, off int64) (int, error) {
	if err := cf.chaos.inject(cf.chaos.config.ReadFailRate, &cf.chaos.readFails, "read", cf.path, syscall.EIO); err != nil {
		return 0, err
	}

	return cf.f.ReadAt(buf, off)
}

func (cf *chaosFile) Write(data []byte) (int, error) {
	if err := cf.chaos.inject(cf.chaos.config.WriteFailRate, &cf.chaos.writeFails, "write", cf.path, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT); err != nil {
		return 0, err
	}

	return cf.f.Write(data)
}

func (cf *chaosFile) WriteAt(data []byte, off int64) (int, error) {
	c := cf.chaos

	if err := c.inject(c.config.WriteFailRate, &c.writeFails, "write", cf.path, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT); err != nil {
		return 0, err
	}

	if len(data) > 1 {
		if err := c.inject(c.config.PartialWriteRate, &c.partialWrites, "write", cf.path, syscall.EIO, syscall.ENOSPC); err != nil {
			n, werr := cf.f.WriteAt(data[:c.cut(len(data))], off)
			if werr != nil {
				return n, werr
			}

			return n, err
		}
	}

	return cf.f.WriteAt(data, off)
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Close() error { return cf.f.Close() }

func (cf *chaosFile) Fd() uintptr { return cf.f.Fd() }

func (cf *chaosFile) Name() string { return cf.f.Name() }

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	if err := cf.chaos.inject(cf.chaos.config.StatFailRate, &cf.chaos.statFails, "stat", cf.path, syscall.EIO); err != nil {
		return nil, err
	}

	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	if err := cf.chaos.inject(cf.chaos.config.SyncFailRate, &cf.chaos.syncFails, "sync", cf.path, syscall.EIO, syscall.ENOSPC); err != nil {
		return err
	}

	return cf.f.Sync()
}

func (cf *chaosFile) Truncate(size int64) error {
	if err := cf.chaos.inject(cf.chaos.config.TruncateFailRate, &cf.chaos.truncateFails, "truncate", cf.path, syscall.EIO, syscall.EROFS); err != nil {
		return err
	}

	return cf.f.Truncate(size)
}

var _ FS = (*Chaos)(nil)
