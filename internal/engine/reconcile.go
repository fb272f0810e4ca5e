package engine

import (
	"context"
	"time"
)

// ReconcileReport summarizes one scan-then-fetch pass.
type ReconcileReport struct {
	Scan       *ScanResult          `json:"scan"`
	Items      []*Item              `json:"items"`
	Results    map[time.Time]Result `json:"-"`
	Downloaded int                  `json:"downloaded"`
	Failed     int                  `json:"failed"`
	Skipped    int                  `json:"skipped"`
}

// Reconcile scans req and downloads every missing observation into the
// scanned directory. A scan failure aborts before any download. Once a file
// has landed, the cached scan for req is dropped so the next scan sees it.
func (e *Engine) Reconcile(ctx context.Context, req ScanRequest, maxConcurrency int, progress FetchProgressFunc, onItem ItemFunc) (*ReconcileReport, error) {
	result, err := e.ScanDirectory(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	items := ItemsFromScan(result, req.Satellite, req.Product)
	report := &ReconcileReport{Scan: result, Items: items}
	if len(items) == 0 {
		report.Results = map[time.Time]Result{}
		return report, nil
	}

	results, err := e.FetchMissing(ctx, FetchRequest{
		Items:          items,
		Directory:      req.Directory,
		Satellite:      req.Satellite,
		Product:        req.Product,
		MaxConcurrency: maxConcurrency,
	}, progress, onItem)
	report.Results = results

	for _, res := range results {
		if res.OK() {
			report.Downloaded++
		} else {
			report.Failed++
		}
	}
	report.Skipped = len(items) - len(results)

	if report.Downloaded > 0 {
		fingerprint, ferr := e.Fingerprint(req)
		if ferr == nil {
			ferr = e.cache.Invalidate(fingerprint)
		}
		if ferr != nil {
			e.logger.Warn("failed to invalidate stale scan", "directory", req.Directory, "error", ferr)
		}
	}
	return report, err
}
