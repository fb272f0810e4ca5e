package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/engine"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// scanFlags are shared by scan and fetch.
type scanFlags struct {
	directory string
	satellite string
	product   string
	start     string
	end       string
	interval  int
	force     bool
	autoRange bool
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.directory, "directory", "", "archive directory to reconcile (default: archive_dir from config)")
	cmd.Flags().StringVar(&f.satellite, "satellite", "goes16", "satellite (goes16, goes18)")
	cmd.Flags().StringVar(&f.product, "product", "FD", "product (FD, CONUS, M1, M2)")
	cmd.Flags().StringVar(&f.start, "start", "", "range start, inclusive (RFC3339, 2006-01-02T15:04 or 2006-01-02; UTC)")
	cmd.Flags().StringVar(&f.end, "end", "", "range end, exclusive")
	cmd.Flags().IntVar(&f.interval, "interval", 0, "grid interval in minutes (0 uses the product's native cadence)")
	cmd.Flags().BoolVar(&f.force, "force", false, "ignore any cached scan result")
	cmd.Flags().BoolVar(&f.autoRange, "auto-range", false, "derive the range from the files already in the directory")
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeFlag parses a user supplied time. Values without a zone are UTC.
func parseTimeFlag(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q: expected RFC3339 or YYYY-MM-DD[THH:MM]", name, value)
}

// request builds the engine request. With --auto-range the range spans the
// first through the last observation already on disk.
func (f *scanFlags) request(eng *engine.Engine, defaultDir string) (engine.ScanRequest, error) {
	sat, err := timeindex.ParseSatellite(f.satellite)
	if err != nil {
		return engine.ScanRequest{}, err
	}
	product, err := timeindex.ParseProduct(f.product)
	if err != nil {
		return engine.ScanRequest{}, err
	}
	if f.interval < 0 {
		return engine.ScanRequest{}, fmt.Errorf("--interval must not be negative, got %d", f.interval)
	}
	dir := f.directory
	if dir == "" {
		dir = defaultDir
	}

	req := engine.ScanRequest{
		Directory:       dir,
		Satellite:       sat,
		Product:         product,
		IntervalMinutes: f.interval,
		ForceRescan:     f.force,
	}

	if f.autoRange {
		if f.start != "" || f.end != "" {
			return engine.ScanRequest{}, fmt.Errorf("--auto-range cannot be combined with --start or --end")
		}
		first, last, ok, err := eng.DetectDirectoryRange(dir, sat)
		if err != nil {
			return engine.ScanRequest{}, err
		}
		if !ok {
			return engine.ScanRequest{}, fmt.Errorf("no recognizable %s observation files in %s", sat, dir)
		}
		step, err := eng.Index().Step(product, f.interval)
		if err != nil {
			return engine.ScanRequest{}, err
		}
		req.Start = first
		req.End = last.Add(step)
		return req, nil
	}

	if f.start == "" || f.end == "" {
		return engine.ScanRequest{}, fmt.Errorf("--start and --end are required (or use --auto-range)")
	}
	if req.Start, err = parseTimeFlag("start", f.start); err != nil {
		return engine.ScanRequest{}, err
	}
	if req.End, err = parseTimeFlag("end", f.end); err != nil {
		return engine.ScanRequest{}, err
	}
	return req, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
