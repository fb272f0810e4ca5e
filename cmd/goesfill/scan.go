package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/engine"
)

var (
	scanOpts scanFlags
	scanList bool
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report which expected observations are missing locally",
		Long: `Compare the files in the archive directory against the expected observation
grid for a satellite, product and time range. Results are cached per
parameter set, so repeating the same scan is instant until --force is given.`,
		Example: `  goesfill scan --start 2023-01-01 --end 2023-01-02
  goesfill scan --satellite goes18 --product CONUS --start 2023-01-01T00:00 --end 2023-01-01T06:00 --list
  goesfill scan --auto-range --force`,
		RunE: scanRun,
	}

	scanOpts.register(cmd)
	cmd.Flags().BoolVar(&scanList, "list", false, "print every missing timestamp")

	return cmd
}

func scanRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	req, err := scanOpts.request(globalEngine, globalCfg.ArchiveDir)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log.Info("scanning", "directory", req.Directory, "satellite", req.Satellite, "product", req.Product,
		"start", req.Start, "end", req.End, "force", req.ForceRescan)

	result, err := globalEngine.ScanDirectory(ctx, req, func(scanned, total int) {
		log.Debug("scan progress", "scanned", scanned, "total", total)
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	printScanResult(req, result)
	if scanList {
		for _, it := range engine.ItemsFromScan(result, req.Satellite, req.Product) {
			fmt.Printf("  %s  %s\n", it.Timestamp.Format("2006-01-02 15:04"), it.ExpectedFilename)
		}
	}
	return nil
}

func printScanResult(req engine.ScanRequest, result *engine.ScanResult) {
	var pct float64
	if result.TotalExpected > 0 {
		pct = float64(len(result.Missing)) / float64(result.TotalExpected) * 100
	}

	fmt.Printf("Scan of %s (%s %s)\n", req.Directory, req.Satellite, req.Product)
	fmt.Println("==========")
	fmt.Printf("Range:     %s to %s\n", req.Start.Format("2006-01-02 15:04"), req.End.Format("2006-01-02 15:04"))
	fmt.Printf("Expected:  %s\n", humanize.Comma(int64(result.TotalExpected)))
	fmt.Printf("Existing:  %s\n", humanize.Comma(int64(len(result.Existing))))
	fmt.Printf("Missing:   %s (%.1f%%)\n", humanize.Comma(int64(len(result.Missing))), pct)
	fmt.Printf("Generated: %s (%s)\n", result.GeneratedAt.Format("2006-01-02 15:04:05"), humanize.Time(result.GeneratedAt))
}
