package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/engine"
	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

var (
	fetchOpts        scanFlags
	fetchConcurrency int
	fetchDryRun      bool
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download missing observations into the archive directory",
		Long: `Scan the archive directory and download every missing observation.

Each observation is fetched from the fast CDN when it is within the recent
window and from the S3 archive otherwise. With fetch.fallback enabled, a
failed item is retried once against the other store. Individual failures
never stop the batch; press Ctrl-C to cancel, which leaves unfinished items
missing and removes any partial files.

With --dry-run nothing is downloaded; each missing observation is checked
for availability on its store instead.`,
		Example: `  goesfill fetch --start 2023-01-01 --end 2023-01-02
  goesfill fetch --satellite goes18 --product M1 --start 2023-06-01T12:00 --end 2023-06-01T13:00 --concurrency 10
  goesfill fetch --auto-range --dry-run`,
		RunE: fetchRun,
	}

	fetchOpts.register(cmd)
	cmd.Flags().IntVar(&fetchConcurrency, "concurrency", 0, "parallel downloads (default: fetch.max_concurrency from config)")
	cmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "check remote availability without downloading")

	return cmd
}

func fetchRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	req, err := fetchOpts.request(globalEngine, globalCfg.ArchiveDir)
	if err != nil {
		return err
	}
	workers := fetchConcurrency
	if workers <= 0 {
		workers = globalCfg.Fetch.MaxConcurrency
	}

	ctx, cancel := signalContext()
	defer cancel()

	if fetchDryRun {
		return fetchDryRunReport(ctx, req, workers)
	}

	log.Info("fetch operation", "directory", req.Directory, "satellite", req.Satellite, "product", req.Product,
		"start", req.Start, "end", req.End, "workers", workers)

	report, err := globalEngine.Reconcile(ctx, req, workers,
		func(completed, total int) {
			if !quiet {
				fmt.Printf("\r  %d/%d items finished", completed, total)
			}
		},
		func(it engine.Item) {
			if it.Status == engine.StatusFailed {
				log.Warn("item failed", "item", it.ExpectedFilename, "source", it.Source, "error", it.Error)
			}
		},
	)
	if report == nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if !quiet && len(report.Items) > 0 {
		fmt.Println()
	}

	printFetchReport(report)

	if errors.Is(err, remote.ErrCancelled) {
		return fmt.Errorf("fetch cancelled: %d item(s) left missing", report.Skipped)
	}
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if report.Failed > 0 {
		return fmt.Errorf("fetch completed with %d failures", report.Failed)
	}
	return nil
}

func printFetchReport(report *engine.ReconcileReport) {
	var bytes int64
	var fallbacks int
	failed := make([]*engine.Item, 0, report.Failed)
	for _, it := range report.Items {
		res, ok := report.Results[it.Timestamp]
		if !ok {
			continue
		}
		bytes += res.Bytes
		if res.Fallback {
			fallbacks++
		}
		if !res.OK() {
			failed = append(failed, it)
		}
	}

	fmt.Println("\n=== FETCH SUMMARY ===")
	fmt.Printf("Expected:    %s\n", humanize.Comma(int64(report.Scan.TotalExpected)))
	fmt.Printf("Missing:     %s\n", humanize.Comma(int64(len(report.Items))))
	fmt.Printf("Downloaded:  %s (%s)\n", humanize.Comma(int64(report.Downloaded)), humanize.IBytes(uint64(bytes)))
	fmt.Printf("Fallbacks:   %d\n", fallbacks)
	fmt.Printf("Failed:      %d\n", report.Failed)
	fmt.Printf("Not started: %d\n", report.Skipped)

	if len(failed) > 0 {
		fmt.Println("Failed items:")
		for _, it := range failed {
			fmt.Printf("  - %s: %s\n", it.ExpectedFilename, it.Error)
		}
	}
}

func fetchDryRunReport(ctx context.Context, req engine.ScanRequest, workers int) error {
	result, err := globalEngine.ScanDirectory(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	items := engine.ItemsFromScan(result, req.Satellite, req.Product)

	fmt.Println("DRY RUN: checking remote availability of missing observations")
	avail, err := globalEngine.CheckAvailability(ctx, items, workers)
	if err != nil {
		return err
	}

	times := make([]time.Time, 0, len(avail))
	for ts := range avail {
		times = append(times, ts)
	}
	timeindex.SortTimes(times)

	var available, absent, errored int
	for _, ts := range times {
		av := avail[ts]
		state := "available"
		switch {
		case av.Err != nil:
			state = "error: " + av.Err.Error()
			errored++
		case av.Available:
			available++
		default:
			state = "not found"
			absent++
		}
		fmt.Printf("  %s  %-8s %s\n", ts.Format("2006-01-02 15:04"), av.Source, state)
	}

	fmt.Printf("\nMissing: %d  Available: %d  Not found: %d  Errors: %d\n",
		len(items), available, absent, errored)
	return nil
}
