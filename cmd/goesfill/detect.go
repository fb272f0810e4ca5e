package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/timeindex"
)

var (
	detectDirectory string
	detectSatellite string
)

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Show the observation range already present in a directory",
		Long: `Parse the file names in a directory and report the earliest and latest
observation found. File contents are never read.`,
		Example: `  goesfill detect
  goesfill detect --directory /data/goes18 --satellite goes18`,
		RunE: detectRun,
	}

	cmd.Flags().StringVar(&detectDirectory, "directory", "", "directory to inspect (default: archive_dir from config)")
	cmd.Flags().StringVar(&detectSatellite, "satellite", "", "only count files from this satellite (default: any)")

	return cmd
}

func detectRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	dir := detectDirectory
	if dir == "" {
		dir = globalCfg.ArchiveDir
	}

	var sat timeindex.Satellite
	if detectSatellite != "" {
		var err error
		if sat, err = timeindex.ParseSatellite(detectSatellite); err != nil {
			return err
		}
	}

	first, last, ok, err := globalEngine.DetectDirectoryRange(dir, sat)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("No recognizable observation files in %s\n", dir)
		return nil
	}

	fmt.Printf("Directory: %s\n", dir)
	fmt.Printf("First:     %s\n", first.Format("2006-01-02 15:04 MST"))
	fmt.Printf("Last:      %s\n", last.Format("2006-01-02 15:04 MST"))
	fmt.Printf("Span:      %s\n", last.Sub(first))
	return nil
}
