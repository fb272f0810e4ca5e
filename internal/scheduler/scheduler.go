package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BadgerOps/goesfill/internal/engine"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// Reconciler is the part of the engine a watch job drives.
type Reconciler interface {
	Index() *timeindex.Index
	Reconcile(ctx context.Context, req engine.ScanRequest, maxConcurrency int, progress engine.FetchProgressFunc, onItem engine.ItemFunc) (*engine.ReconcileReport, error)
}

// Job describes the trailing window a watch keeps complete.
type Job struct {
	Directory       string
	Satellite       timeindex.Satellite
	Product         timeindex.Product
	Lookback        time.Duration
	IntervalMinutes int
	MaxConcurrency  int
}

// RunSummary records the last completed tick.
type RunSummary struct {
	Start      time.Time
	End        time.Time
	Missing    int
	Downloaded int
	Failed     int
	Err        error
	FinishedAt time.Time
}

// Scheduler wraps robfig/cron and runs one reconcile job on a schedule.
// Ticks that arrive while the previous run is still going are skipped.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
	last     *RunSummary

	rec    Reconciler
	job    Job
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Scheduler. Call SetSchedule and Start to activate it.
func New(rec Reconciler, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		rec:    rec,
		job:    job,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetSchedule replaces the current cron entry. If the scheduler is already
// running, the new schedule takes effect immediately.
func (s *Scheduler) SetSchedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.c.AddFunc(expr, s.tick)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	s.entryID = id
	s.cronExpr = expr
	s.logger.Info("watch schedule set", "cron", expr,
		"satellite", s.job.Satellite, "product", s.job.Product, "lookback", s.job.Lookback)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop cancels any running reconcile and waits for it to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	stopped := s.c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

// NextRunAt returns the next scheduled time, or nil if no schedule is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}

// LastRun returns the summary of the most recent tick, or nil.
func (s *Scheduler) LastRun() *RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	out := *s.last
	return &out
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(s.ctx); err != nil {
		s.logger.Error("watch run failed", "error", err)
	}
}

// Window returns the grid-aligned range ending at now.
func (s *Scheduler) Window(now time.Time) (start, end time.Time, err error) {
	step, err := s.rec.Index().Step(s.job.Product, s.job.IntervalMinutes)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end = timeindex.Normalize(now).Truncate(time.Minute)
	start = end.Add(-s.job.Lookback).Truncate(step)
	return start, end, nil
}

// RunOnce reconciles the trailing window immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (*engine.ReconcileReport, error) {
	start, end, err := s.Window(s.now())
	if err != nil {
		return nil, err
	}

	log := s.logger.With("satellite", s.job.Satellite, "product", s.job.Product, "start", start, "end", end)
	log.Info("watch run starting")

	report, err := s.rec.Reconcile(ctx, engine.ScanRequest{
		Directory:       s.job.Directory,
		Satellite:       s.job.Satellite,
		Product:         s.job.Product,
		Start:           start,
		End:             end,
		IntervalMinutes: s.job.IntervalMinutes,
		// Files arrive between ticks, so a cached scan is never trusted here.
		ForceRescan: true,
	}, s.job.MaxConcurrency, nil, nil)

	summary := &RunSummary{Start: start, End: end, Err: err, FinishedAt: s.now()}
	if report != nil {
		summary.Missing = len(report.Items)
		summary.Downloaded = report.Downloaded
		summary.Failed = report.Failed
	}
	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	if err != nil {
		return report, fmt.Errorf("watch run %s..%s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	log.Info("watch run finished",
		"missing", summary.Missing,
		"downloaded", summary.Downloaded,
		"failed", summary.Failed,
	)
	return report, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
