package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var runsLimit int

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent fetch runs",
		Example: `  goesfill runs
  goesfill runs --limit 5`,
		RunE: runsRun,
	}

	cmd.Flags().IntVar(&runsLimit, "limit", 10, "number of runs to show (0 for all)")

	return cmd
}

func runsRun(cmd *cobra.Command, args []string) error {
	if globalCache == nil {
		return fmt.Errorf("result cache not initialized")
	}

	runs, err := globalCache.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No fetch runs recorded")
		return nil
	}

	fmt.Printf("%-36s %-7s %-6s %-10s %7s %7s %7s %10s %s\n",
		"Run", "Sat", "Prod", "Status", "Total", "OK", "Failed", "Size", "Started")
	fmt.Println(strings.Repeat("-", 120))
	for _, r := range runs {
		fmt.Printf("%-36s %-7s %-6s %-10s %7d %7d %7d %10s %s\n",
			r.ID, r.Satellite, r.Product, r.Status, r.Total, r.Succeeded, r.Failed,
			humanize.IBytes(uint64(r.Bytes)), humanize.Time(r.StartTime))
	}
	return nil
}
