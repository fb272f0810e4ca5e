package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/scheduler"
	"github.com/BadgerOps/goesfill/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API for scanning, fetching and cache management. Fetch
progress is streamed as server-sent events from /api/fetch/progress.

By default, the server listens on the address configured in the config file
(default: 127.0.0.1:8080). Use --listen to override. When schedule.enabled is
set, the watch job also runs inside the server process.`,
		Example: `  goesfill serve
  goesfill serve --listen 0.0.0.0:9000`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	log.Info("server starting", "listen", listen, "archive_dir", globalCfg.ArchiveDir, "version", version)

	srv := server.NewServer(globalEngine, globalCfg, logger)

	var sched *scheduler.Scheduler
	if globalCfg.Schedule.Enabled {
		var err error
		sched, err = newWatchScheduler(globalCfg.Schedule.Cron)
		if err != nil {
			return err
		}
		sched.Start()
		if next := sched.NextRunAt(); next != nil {
			log.Info("watch schedule active", "cron", sched.CronExpr(), "next_run", next)
		}
	}

	// Channel to listen for errors from server
	errChan := make(chan error, 1)

	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-errChan:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(ctx)
	}
	if err := srv.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown error: %w", err)
	}
	if runErr == nil {
		fmt.Println("Server stopped gracefully")
	}
	return runErr
}
