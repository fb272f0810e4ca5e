package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// Availability is the remote existence check result for one item.
type Availability struct {
	Source    timeindex.Source `json:"source"`
	Available bool             `json:"available"`
	Err       error            `json:"-"`
}

// CheckAvailability asks each item's classified store whether the object
// exists, with at most concurrency checks in flight. Items are not mutated.
// Per-item failures are reported in the map; only cancellation fails the call.
func (e *Engine) CheckAvailability(ctx context.Context, items []*Item, concurrency int) (map[time.Time]Availability, error) {
	out := make(map[time.Time]Availability, len(items))
	if len(items) == 0 {
		return out, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	now := e.now()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, it := range items {
		source := it.Source
		if source == timeindex.SourceUnassigned {
			source = e.index.ClassifySource(it.Timestamp, now)
		}
		obj := remote.Object{Satellite: it.Satellite, Product: it.Product, Timestamp: it.Timestamp}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			av := Availability{Source: source}
			if store := e.stores[source]; store == nil {
				av.Err = fmt.Errorf("no %s store configured", source)
			} else {
				av.Available, av.Err = store.Exists(gctx, obj)
			}
			if av.Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			out[obj.Timestamp] = av
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("availability check: %w (%w)", remote.ErrCancelled, err)
	}
	return out, nil
}
