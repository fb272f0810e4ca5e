// Package engine reconciles a local imagery archive against the expected
// observation grid and backfills missing observations from the remote stores.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// DefaultMaxConcurrency is the worker count used when callers do not pick one.
const DefaultMaxConcurrency = 5

// ErrDirectory is matched by DirectoryError via errors.Is.
var ErrDirectory = errors.New("directory error")

// DirectoryError reports a scan directory that is missing or unreadable.
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("scan directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() []error { return []error{ErrDirectory, e.Err} }

// Options configures an Engine.
type Options struct {
	Index   *timeindex.Index
	Cache   *cache.ResultCache
	Fast    remote.Store
	Archive remote.Store

	// Fallback retries a failed item once against the other store.
	Fallback bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine composes the time index, the result cache and both remote stores.
// It owns the cache and store handles for its lifetime.
type Engine struct {
	index    *timeindex.Index
	cache    *cache.ResultCache
	stores   map[timeindex.Source]remote.Store
	fallback bool
	logger   *slog.Logger
	now      func() time.Time
	readDir  func(string) ([]os.DirEntry, error)

	// activeTracker tracks the currently running or most recent fetch.
	trackerMu     sync.RWMutex
	activeTracker *FetchTracker
}

// New creates an Engine. Cache is required; either store may be nil when
// only scanning is needed.
func New(opts Options) (*Engine, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("engine: result cache is required")
	}
	if opts.Index == nil {
		opts.Index = timeindex.New(timeindex.Options{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	stores := make(map[timeindex.Source]remote.Store, 2)
	if opts.Fast != nil {
		stores[timeindex.SourceFast] = opts.Fast
	}
	if opts.Archive != nil {
		stores[timeindex.SourceArchive] = opts.Archive
	}

	return &Engine{
		index:    opts.Index,
		cache:    opts.Cache,
		stores:   stores,
		fallback: opts.Fallback,
		logger:   opts.Logger,
		now:      opts.Now,
		readDir:  os.ReadDir,
	}, nil
}

// Index returns the engine's time index.
func (e *Engine) Index() *timeindex.Index { return e.index }

// Cache returns the engine's result cache.
func (e *Engine) Cache() *cache.ResultCache { return e.cache }

// Store returns the store serving source, or nil if none is configured.
func (e *Engine) Store(source timeindex.Source) remote.Store {
	return e.stores[source]
}

// ActiveProgress returns the tracker of the current or most recent fetch, or nil.
func (e *Engine) ActiveProgress() *FetchTracker {
	e.trackerMu.RLock()
	defer e.trackerMu.RUnlock()
	return e.activeTracker
}

func (e *Engine) setActiveTracker(t *FetchTracker) {
	e.trackerMu.Lock()
	defer e.trackerMu.Unlock()
	e.activeTracker = t
}
