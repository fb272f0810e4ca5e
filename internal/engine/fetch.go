package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// FetchRequest describes one batch of items to download.
type FetchRequest struct {
	Items []*Item

	// Directory receives the downloaded files, named by Item.ExpectedFilename.
	Directory string

	// Satellite and Product label the run; items carry their own addressing.
	Satellite timeindex.Satellite
	Product   timeindex.Product

	// MaxConcurrency is the worker count; values <= 0 are clamped to 1.
	MaxConcurrency int
}

// Result is the terminal outcome of one item.
type Result struct {
	LocalPath string           `json:"local_path,omitempty"`
	Err       error            `json:"-"`
	StoreUsed timeindex.Source `json:"store_used,omitempty"`
	Fallback  bool             `json:"fallback,omitempty"`
	Bytes     int64            `json:"bytes,omitempty"`
}

// OK reports whether the item was downloaded.
func (r Result) OK() bool { return r.Err == nil }

// FetchProgressFunc reports how many items have finished out of the total.
type FetchProgressFunc func(completed, total int)

// ItemFunc receives a snapshot of an item whenever its state changes.
// It is called from worker goroutines and may run concurrently.
type ItemFunc func(Item)

// FetchMissing downloads req.Items with bounded concurrency.
//
// Each item is classified to the fast or archive store by age, then fetched
// from that store, falling back once to the other store when enabled. Item
// failures are recorded per item and never abort the batch. The returned map
// holds one entry per finished item. When ctx is cancelled, in-flight items
// return to missing, unstarted items are left alone, and the finished entries
// are returned with an error wrapping remote.ErrCancelled.
func (e *Engine) FetchMissing(ctx context.Context, req FetchRequest, progress FetchProgressFunc, onItem ItemFunc) (map[time.Time]Result, error) {
	results := make(map[time.Time]Result, len(req.Items))
	if len(req.Items) == 0 {
		return results, nil
	}
	if req.Directory == "" {
		return nil, fmt.Errorf("fetch: destination directory is required")
	}
	seen := make(map[time.Time]int, len(req.Items))
	for i, it := range req.Items {
		if it == nil {
			return nil, fmt.Errorf("fetch: item %d is nil", i)
		}
		ts := timeindex.Normalize(it.Timestamp)
		if j, dup := seen[ts]; dup {
			return nil, fmt.Errorf("fetch: items %d and %d share timestamp %s", j, i, ts.Format(time.RFC3339))
		}
		seen[ts] = i
	}

	workers := req.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}

	runID := uuid.NewString()
	log := e.logger.With("run_id", runID, "satellite", req.Satellite, "product", req.Product)

	tracker := NewFetchTracker(runID, string(req.Satellite), string(req.Product))
	e.setActiveTracker(tracker)

	now := e.now()
	for _, it := range req.Items {
		if it.Source == timeindex.SourceUnassigned {
			it.Source = e.index.ClassifySource(it.Timestamp, now)
		}
	}
	tracker.SetTotal(len(req.Items))

	run := &cache.FetchRun{
		ID:        runID,
		Satellite: string(req.Satellite),
		Product:   string(req.Product),
		Directory: req.Directory,
		Total:     len(req.Items),
		Status:    "running",
		StartTime: now,
	}
	if err := e.cache.CreateRun(run); err != nil {
		log.Warn("failed to record fetch run", "error", err)
	}

	log.Info("starting fetch", "items", len(req.Items), "workers", workers, "fallback", e.fallback)
	tracker.SetPhase(PhaseDownloading)
	tracker.SetMessage(fmt.Sprintf("Downloading %d items", len(req.Items)))

	var (
		mu        sync.Mutex
		completed int
	)
	total := len(req.Items)

	newPool(workers, e.logger).run(ctx, req.Items, func(ctx context.Context, it *Item) {
		res, finished := e.fetchItem(ctx, req.Directory, it, tracker, onItem)
		if !finished {
			return
		}

		mu.Lock()
		results[it.Timestamp] = res
		completed++
		if res.OK() {
			run.Succeeded++
			run.Bytes += res.Bytes
			if res.Fallback {
				run.Fallbacks++
			}
		} else {
			run.Failed++
		}
		if progress != nil {
			progress(completed, total)
		}
		mu.Unlock()

		e.recordOutcome(it, res, runID)
	})

	run.EndTime = e.now()
	var err error
	switch {
	case ctx.Err() != nil:
		run.Status = "cancelled"
		tracker.SetPhase(PhaseCancelled)
		err = fmt.Errorf("fetch cancelled after %d of %d items: %w (%w)", completed, total, remote.ErrCancelled, ctx.Err())
	case run.Failed == 0:
		run.Status = "success"
		tracker.SetPhase(PhaseComplete)
	case run.Succeeded == 0:
		run.Status = "failed"
		tracker.SetPhase(PhaseFailed)
	default:
		run.Status = "partial"
		tracker.SetPhase(PhaseComplete)
	}
	tracker.SetMessage(fmt.Sprintf("%d downloaded, %d failed, %d not attempted",
		run.Succeeded, run.Failed, total-completed))

	if uerr := e.cache.UpdateRun(run); uerr != nil {
		log.Warn("failed to update fetch run", "error", uerr)
	}

	log.Info("fetch finished",
		"status", run.Status,
		"downloaded", run.Succeeded,
		"failed", run.Failed,
		"fallbacks", run.Fallbacks,
		"bytes", run.Bytes,
		"duration", run.EndTime.Sub(run.StartTime),
	)
	return results, err
}

// fetchItem downloads one item. finished is false when the transfer was
// interrupted by cancellation, in which case the item is back to missing.
func (e *Engine) fetchItem(ctx context.Context, dir string, it *Item, tracker *FetchTracker, onItem ItemFunc) (Result, bool) {
	notify := func() {
		if onItem != nil {
			onItem(*it)
		}
	}
	dest := filepath.Join(dir, it.ExpectedFilename)
	obj := remote.Object{Satellite: it.Satellite, Product: it.Product, Timestamp: it.Timestamp}

	it.begin()
	notify()

	attempt := func(source timeindex.Source) (string, int64, error) {
		store := e.stores[source]
		if store == nil {
			return "", 0, fmt.Errorf("no %s store configured", source)
		}
		tracker.ItemStarted(it.ExpectedFilename, store.Name())

		var bytes int64
		path, err := store.Download(ctx, obj, dest, func(done, total int64) {
			bytes = done
			before := it.Progress
			it.setProgress(done, total)
			tracker.UpdateItemProgress(it.ExpectedFilename, done, total)
			if it.Progress != before {
				notify()
			}
		})
		return path, bytes, err
	}

	source := it.Source
	path, bytes, err := attempt(source)
	fallback := false

	if err != nil && !cancelled(ctx, err) && e.fallback {
		other := source.Other()
		e.logger.Warn("primary store failed, falling back",
			"item", it.ExpectedFilename, "store", source, "fallback_store", other, "error", err)
		it.Progress = 0
		notify()

		primaryErr := err
		path, bytes, err = attempt(other)
		if err == nil {
			source, fallback = other, true
		} else if !cancelled(ctx, err) {
			err = fmt.Errorf("%w; fallback %s: %w", primaryErr, other, err)
		}
	}

	if err != nil && cancelled(ctx, err) {
		it.abort()
		tracker.ItemAborted(it.ExpectedFilename)
		notify()
		return Result{}, false
	}

	if err != nil {
		it.fail(err)
		tracker.ItemFailed(it.ExpectedFilename, err.Error())
		e.logger.Error("item failed", "item", it.ExpectedFilename, "source", it.Source, "error", err)
		notify()
		return Result{Err: err, StoreUsed: source}, true
	}

	it.succeed(path)
	tracker.ItemCompleted(it.ExpectedFilename, string(source), fallback, bytes)
	e.logger.Debug("item downloaded", "item", it.ExpectedFilename, "store", source, "fallback", fallback, "bytes", bytes)
	notify()
	return Result{LocalPath: path, StoreUsed: source, Fallback: fallback, Bytes: bytes}, true
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, remote.ErrCancelled) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) recordOutcome(it *Item, res Result, runID string) {
	o := &cache.Outcome{
		Satellite: string(it.Satellite),
		Product:   string(it.Product),
		Timestamp: it.Timestamp,
		Source:    string(it.Source),
		StoreUsed: string(res.StoreUsed),
		Fallback:  res.Fallback,
		Status:    string(it.Status),
		LocalPath: it.LocalPath,
		Error:     it.Error,
		RunID:     runID,
	}
	if err := e.cache.RecordOutcome(o); err != nil {
		e.logger.Warn("failed to record item outcome", "item", it.ExpectedFilename, "error", err)
	}
}
