package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/scheduler"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

var (
	watchCron string
	watchOnce bool
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the trailing window of the archive complete on a schedule",
		Long: `Periodically scan the last schedule.lookback_hours of the archive for the
configured satellite and product and download whatever is missing. Ticks that
fire while a previous run is still going are skipped.`,
		Example: `  goesfill watch
  goesfill watch --cron "*/5 * * * *"
  goesfill watch --once`,
		RunE: watchRun,
	}

	cmd.Flags().StringVar(&watchCron, "cron", "", "cron expression (default: schedule.cron from config)")
	cmd.Flags().BoolVar(&watchOnce, "once", false, "run a single pass and exit")

	return cmd
}

// newWatchScheduler builds the watch job from the schedule config.
func newWatchScheduler(expr string) (*scheduler.Scheduler, error) {
	sc := globalCfg.Schedule
	sat, err := timeindex.ParseSatellite(sc.Satellite)
	if err != nil {
		return nil, fmt.Errorf("schedule.satellite: %w", err)
	}
	product, err := timeindex.ParseProduct(sc.Product)
	if err != nil {
		return nil, fmt.Errorf("schedule.product: %w", err)
	}
	if sc.LookbackHours <= 0 {
		return nil, fmt.Errorf("schedule.lookback_hours must be positive, got %d", sc.LookbackHours)
	}

	sched := scheduler.New(globalEngine, scheduler.Job{
		Directory:       globalCfg.ArchiveDir,
		Satellite:       sat,
		Product:         product,
		Lookback:        time.Duration(sc.LookbackHours) * time.Hour,
		IntervalMinutes: sc.IntervalMinutes,
		MaxConcurrency:  globalCfg.Fetch.MaxConcurrency,
	}, logger)

	if expr != "" {
		if err := sched.SetSchedule(expr); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func watchRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if watchOnce {
		sched, err := newWatchScheduler("")
		if err != nil {
			return err
		}
		report, err := sched.RunOnce(ctx)
		if report != nil {
			printFetchReport(report)
		}
		return err
	}

	expr := watchCron
	if expr == "" {
		expr = globalCfg.Schedule.Cron
	}
	sched, err := newWatchScheduler(expr)
	if err != nil {
		return err
	}

	sched.Start()
	log.Info("watching", "cron", sched.CronExpr(), "next_run", sched.NextRunAt())

	<-ctx.Done()
	log.Info("stopping watch")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)

	if last := sched.LastRun(); last != nil {
		log.Info("last watch run", "start", last.Start, "end", last.End,
			"downloaded", last.Downloaded, "failed", last.Failed, "finished_at", last.FinishedAt)
	}
	return nil
}
