package layerfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a layer id is unregistered or a path has
	// no entry anywhere in the addressed lineage. It matches os.ErrNotExist
	// so dispatchers can map it straight to an OS error code.
	ErrNotFound = fmt.Errorf("no such layer, file, or directory: %w", os.ErrNotExist)
	// ErrExists is returned when creating a layer whose id is already
	// registered. It matches os.ErrExist.
	ErrExists = fmt.Errorf("layer already exists: %w", os.ErrExist)
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine is closed")

	errNotEmpty = errors.New("directory not empty")
)

// LayerFS is a layer/inode engine instance. It owns the layer registry, the
// reaper lock, and the content store backing regular-file data. Multiple
// independent engines may coexist in one process.
type LayerFS struct {
	mu     sync.RWMutex // guards layers and retired
	layers map[string]*Layer

	// Layers removed from the registry but still holding inodes that await
	// reclamation. Drained by the sweeper.
	retired []*Layer

	// Guards against a deleted inode getting freed while someone is still
	// resolving it. Lookups hold the read side; reclamation the write side.
	reaperMu sync.RWMutex

	// Serializes copy-ups so concurrent copies of the same inherited path
	// cannot double-allocate in the destination layer.
	copyMu sync.Mutex

	content absfs.FileSystem
	cache   *resolveCache
	logger  zerolog.Logger

	nextIno   atomic.Uint64
	allocated atomic.Uint64
	reclaimed atomic.Uint64

	reaperInterval time.Duration
	done           chan struct{}
	reaperDone     chan struct{}
	closed         atomic.Bool
}

// Option is a functional option for configuring a LayerFS
type Option func(*LayerFS)

// WithContentStore sets the filesystem that backs regular-file content.
// Defaults to an in-memory filesystem, standing in for a block device.
func WithContentStore(fs absfs.FileSystem) Option {
	return func(lfs *LayerFS) {
		lfs.content = fs
	}
}

// WithLogger sets the structured logger for engine diagnostics.
// The default logger discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(lfs *LayerFS) {
		lfs.logger = logger
	}
}

// WithReaperInterval starts a background goroutine that sweeps for
// reclaimable inodes at the given interval. Without it, reclamation happens
// only on the zero-reference transition and on explicit Sweep calls.
func WithReaperInterval(d time.Duration) Option {
	return func(lfs *LayerFS) {
		lfs.reaperInterval = d
	}
}

// WithResolveCache enables caching of resolution results with the specified
// TTL and entry limit. A non-positive TTL means entries never expire on age;
// generation bumps still invalidate them.
func WithResolveCache(ttl time.Duration, maxEntries int) Option {
	return func(lfs *LayerFS) {
		lfs.cache = newResolveCache(true, ttl, maxEntries)
	}
}

// New creates a new engine with the specified options.
func New(opts ...Option) (*LayerFS, error) {
	lfs := &LayerFS{
		layers: make(map[string]*Layer),
		logger: zerolog.Nop(),
		cache:  newResolveCache(false, 0, 0), // disabled by default
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lfs)
	}

	if lfs.content == nil {
		mfs, err := memfs.NewFS()
		if err != nil {
			return nil, fmt.Errorf("create content store: %w", err)
		}
		lfs.content = mfs
	}

	if lfs.reaperInterval > 0 {
		lfs.reaperDone = make(chan struct{})
		go lfs.reaperLoop()
	}

	return lfs, nil
}

// Close stops the background reaper (if any) and runs a final sweep.
// The engine must not be used after Close.
func (lfs *LayerFS) Close() error {
	if !lfs.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(lfs.done)
	if lfs.reaperDone != nil {
		<-lfs.reaperDone
	}
	lfs.Sweep()
	return nil
}

// NewLayerID returns a fresh unique layer id.
func NewLayerID() string {
	return uuid.NewString()
}

// Name returns the name of the engine
func (lfs *LayerFS) Name() string {
	return "LayerFS"
}

// Stats contains engine counters
type Stats struct {
	Layers    int
	Inodes    uint64
	Reclaimed uint64
}

// Stats returns engine statistics. Inodes counts allocations over the
// engine's lifetime, not live inodes.
func (lfs *LayerFS) Stats() Stats {
	lfs.mu.RLock()
	defer lfs.mu.RUnlock()

	return Stats{
		Layers:    len(lfs.layers),
		Inodes:    lfs.allocated.Load(),
		Reclaimed: lfs.reclaimed.Load(),
	}
}

// CacheStats returns resolve-cache statistics
func (lfs *LayerFS) CacheStats() CacheStats {
	return lfs.cache.Stats()
}

// cleanPath normalizes a namespace path
func cleanPath(name string) string {
	cleaned := path.Clean(name)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}
