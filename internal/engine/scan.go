package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// ScanResult is the outcome of one directory scan.
type ScanResult = cache.ScanResult

// ScanRequest selects the directory and observation grid to reconcile.
type ScanRequest struct {
	Directory       string
	Satellite       timeindex.Satellite
	Product         timeindex.Product
	Start           time.Time
	End             time.Time
	IntervalMinutes int // 0 uses the product's native cadence
	ForceRescan     bool
}

// ScanProgressFunc reports directory enumeration progress.
type ScanProgressFunc func(scanned, total int)

// scanProgressEvery bounds how often ScanProgressFunc fires.
const scanProgressEvery = 256

// normalized truncates Start to the minute. Filenames resolve to whole
// minutes, so a grid anchored on a second offset could never match a file.
func (r ScanRequest) normalized() ScanRequest {
	r.Start = timeindex.Normalize(r.Start).Truncate(time.Minute)
	r.End = timeindex.Normalize(r.End)
	return r
}

// Fingerprint returns the cache key for req. An auto interval is resolved
// to the cadence the index uses now.
func (e *Engine) Fingerprint(req ScanRequest) (string, error) {
	req = req.normalized()
	step, err := e.index.Step(req.Product, req.IntervalMinutes)
	if err != nil {
		return "", err
	}
	return cache.Fingerprint(req.Directory, string(req.Satellite), string(req.Product), req.Start, req.End, step), nil
}

// ScanDirectory computes which expected observations are missing from
// req.Directory. Start is truncated to the minute. A cached result for
// identical parameters is returned without touching the filesystem unless
// req.ForceRescan is set.
// Failures and cancellation leave the cache untouched.
func (e *Engine) ScanDirectory(ctx context.Context, req ScanRequest, progress ScanProgressFunc) (*ScanResult, error) {
	if !req.End.After(req.Start) {
		return nil, &timeindex.InvalidRangeError{Start: req.Start, End: req.End}
	}
	req = req.normalized()
	expected, err := e.index.ExpectedGrid(req.Satellite, req.Product, req.IntervalMinutes, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	fingerprint, err := e.Fingerprint(req)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("directory", req.Directory, "satellite", req.Satellite, "product", req.Product)

	if !req.ForceRescan {
		entry, ok, err := e.cache.Lookup(fingerprint)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug("scan served from cache", "generated_at", entry.Result.GeneratedAt)
			result := entry.Result
			return &result, nil
		}
	}

	present, err := e.enumerate(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	existing := make([]time.Time, 0, len(present))
	for _, t := range expected {
		if _, ok := present[t]; ok {
			existing = append(existing, t)
		}
	}

	result := ScanResult{
		Existing:      existing,
		Missing:       timeindex.Difference(expected, present),
		TotalExpected: len(expected),
		GeneratedAt:   timeindex.Normalize(e.now()),
	}

	if err := e.cache.Store(fingerprint, result); err != nil {
		return nil, err
	}

	log.Info("scan complete",
		"expected", result.TotalExpected,
		"existing", len(result.Existing),
		"missing", len(result.Missing),
	)
	return &result, nil
}

// enumerate lists req.Directory (non-recursive) and returns the timestamps of
// files belonging to req.Satellite.
func (e *Engine) enumerate(ctx context.Context, req ScanRequest, progress ScanProgressFunc) (map[time.Time]struct{}, error) {
	entries, err := e.readDir(req.Directory)
	if err != nil {
		return nil, &DirectoryError{Path: req.Directory, Err: err}
	}

	total := len(entries)
	present := make(map[time.Time]struct{})
	for i, entry := range entries {
		if i%scanProgressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("scan of %s: %w (%w)", req.Directory, remote.ErrCancelled, err)
			}
			if progress != nil && i > 0 {
				progress(i, total)
			}
		}
		if entry.IsDir() {
			continue
		}

		sat, ts, err := timeindex.ParseFilename(entry.Name())
		if err != nil || sat != req.Satellite {
			continue
		}
		present[timeindex.Normalize(ts)] = struct{}{}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan of %s: %w (%w)", req.Directory, remote.ErrCancelled, err)
	}
	if progress != nil {
		progress(total, total)
	}
	return present, nil
}
