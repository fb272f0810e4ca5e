package engine

import (
	"context"
	"log/slog"
	"sync"
)

// pool runs one function per item on a fixed number of worker goroutines.
type pool struct {
	workers int
	logger  *slog.Logger
}

// newPool creates a pool with the given worker count, clamped to at least one.
func newPool(workers int, logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	return &pool{
		workers: workers,
		logger:  logger,
	}
}

// run processes items and blocks until every worker has exited.
// Workers stop taking new items once ctx is cancelled; items never picked
// up are left untouched.
func (p *pool) run(ctx context.Context, items []*Item, fn func(context.Context, *Item)) {
	if len(items) == 0 {
		return
	}

	jobs := make(chan *Item, len(items))
	for _, it := range items {
		jobs <- it
	}
	close(jobs)

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, jobs, fn, &wg)
	}
	wg.Wait()
}

func (p *pool) worker(ctx context.Context, id int, jobs <-chan *Item, fn func(context.Context, *Item), wg *sync.WaitGroup) {
	defer wg.Done()

	for it := range jobs {
		if ctx.Err() != nil {
			p.logger.Debug("worker stopping after cancellation", "worker", id)
			return
		}
		fn(ctx, it)
	}
}
