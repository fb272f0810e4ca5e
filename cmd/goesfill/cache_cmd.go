package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

var (
	outcomesStatus    string
	outcomesSatellite string
	outcomesProduct   string
	outcomesLimit     int
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the scan result cache",
		Long: `The result cache remembers each scan by its parameters and records the
outcome of every downloaded item. Subcommands show its statistics, list item
outcomes, or clear cached scans.`,
		Example: `  goesfill cache stats
  goesfill cache outcomes --status failed
  goesfill cache reset`,
	}

	cmd.AddCommand(
		newCacheStatsCmd(),
		newCacheResetCmd(),
		newCacheOutcomesCmd(),
	)

	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Display cache statistics",
		RunE:  cacheStatsRun,
	}
}

func cacheStatsRun(cmd *cobra.Command, args []string) error {
	if globalCache == nil {
		return fmt.Errorf("result cache not initialized")
	}

	stats, err := globalCache.Stats()
	if err != nil {
		return err
	}

	lastScan := "never"
	if !stats.MostRecentScan.IsZero() {
		lastScan = fmt.Sprintf("%s (%s)", stats.MostRecentScan.Format("2006-01-02 15:04:05"), humanize.Time(stats.MostRecentScan))
	}

	fmt.Println("Result Cache")
	fmt.Println("============")
	fmt.Printf("Path:            %s\n", globalCache.Path())
	fmt.Printf("Cached scans:    %s\n", humanize.Comma(int64(stats.EntryCount)))
	fmt.Printf("Approx size:     %s\n", humanize.IBytes(uint64(stats.ApproxSizeBytes)))
	fmt.Printf("Database size:   %s\n", humanize.IBytes(uint64(stats.DatabaseFileSize)))
	fmt.Printf("Most recent:     %s\n", lastScan)
	fmt.Printf("Item outcomes:   %s (%d failed)\n", humanize.Comma(int64(stats.OutcomeCount)), stats.FailedOutcomes)
	return nil
}

func newCacheResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every cached scan result",
		Long: `Drop every cached scan result so the next scan reads the directory again.
Item outcomes and fetch run history are kept.`,
		RunE: cacheResetRun,
	}
}

func cacheResetRun(cmd *cobra.Command, args []string) error {
	if globalCache == nil {
		return fmt.Errorf("result cache not initialized")
	}

	if err := globalCache.Reset(); err != nil {
		return fmt.Errorf("failed to reset cache: %w", err)
	}
	slog.Default().Info("scan cache cleared", "path", globalCache.Path())
	fmt.Println("Scan cache cleared")
	return nil
}

func newCacheOutcomesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List recorded item outcomes, newest first",
		Example: `  goesfill cache outcomes
  goesfill cache outcomes --status failed --satellite goes18 --limit 50`,
		RunE: cacheOutcomesRun,
	}

	cmd.Flags().StringVar(&outcomesStatus, "status", "", "filter by status (downloaded, failed)")
	cmd.Flags().StringVar(&outcomesSatellite, "satellite", "", "filter by satellite")
	cmd.Flags().StringVar(&outcomesProduct, "product", "", "filter by product")
	cmd.Flags().IntVar(&outcomesLimit, "limit", 50, "maximum rows to show (0 for all)")

	return cmd
}

func cacheOutcomesRun(cmd *cobra.Command, args []string) error {
	if globalCache == nil {
		return fmt.Errorf("result cache not initialized")
	}

	filter := cache.OutcomeFilter{Status: outcomesStatus, Limit: outcomesLimit}
	if outcomesSatellite != "" {
		sat, err := timeindex.ParseSatellite(outcomesSatellite)
		if err != nil {
			return err
		}
		filter.Satellite = string(sat)
	}
	if outcomesProduct != "" {
		p, err := timeindex.ParseProduct(outcomesProduct)
		if err != nil {
			return err
		}
		filter.Product = string(p)
	}

	outcomes, err := globalCache.ListOutcomes(filter)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Println("No outcomes recorded")
		return nil
	}

	fmt.Printf("%-17s %-7s %-6s %-11s %-8s %-9s %s\n", "Timestamp", "Sat", "Prod", "Status", "Store", "Attempts", "Detail")
	fmt.Println(strings.Repeat("-", 90))
	for _, o := range outcomes {
		store := o.StoreUsed
		if o.Fallback {
			store += "*"
		}
		detail := o.LocalPath
		if o.Error != "" {
			detail = o.Error
		}
		fmt.Printf("%-17s %-7s %-6s %-11s %-8s %-9d %s\n",
			o.Timestamp.Format("2006-01-02 15:04"), o.Satellite, o.Product, o.Status, store, o.Attempts, detail)
	}
	fmt.Println("\n* served by the fallback store")
	return nil
}
