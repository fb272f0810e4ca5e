// Package timeindex computes the expected observation grid, parses archive
// file names, and decides which remote store serves a given observation.
// Everything here is pure: no I/O and no wall-clock reads.
package timeindex

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidRange is matched by InvalidRangeError via errors.Is.
var ErrInvalidRange = errors.New("invalid time range")

// InvalidRangeError reports an empty or inverted [start, end) range.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid time range: end %s is not after start %s",
		e.End.UTC().Format(time.RFC3339), e.Start.UTC().Format(time.RFC3339))
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// Index holds the static tables the grid and classification depend on.
// The zero value is not usable; build one with New.
type Index struct {
	cadence      map[Product]time.Duration
	recentWindow time.Duration
}

// Options configures an Index. Zero fields fall back to package defaults.
type Options struct {
	Cadence      map[Product]time.Duration
	RecentWindow time.Duration
}

// New creates an Index. Cadence entries in opts override DefaultCadence per product.
func New(opts Options) *Index {
	cadence := make(map[Product]time.Duration, len(DefaultCadence))
	for p, d := range DefaultCadence {
		cadence[p] = d
	}
	for p, d := range opts.Cadence {
		if d > 0 {
			cadence[p] = d
		}
	}
	window := opts.RecentWindow
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return &Index{cadence: cadence, recentWindow: window}
}

// RecentWindow returns the configured fast-store age threshold.
func (x *Index) RecentWindow() time.Duration {
	return x.recentWindow
}

// Cadence returns the native observation interval for product.
func (x *Index) Cadence(product Product) (time.Duration, error) {
	d, ok := x.cadence[product]
	if !ok || d <= 0 {
		return 0, fmt.Errorf("no native cadence configured for product %q", product)
	}
	return d, nil
}

// Step resolves the grid spacing: intervalMinutes when positive,
// the product's native cadence when zero.
func (x *Index) Step(product Product, intervalMinutes int) (time.Duration, error) {
	if intervalMinutes < 0 {
		return 0, fmt.Errorf("interval must not be negative: %d", intervalMinutes)
	}
	if intervalMinutes > 0 {
		return time.Duration(intervalMinutes) * time.Minute, nil
	}
	return x.Cadence(product)
}

// ExpectedGrid returns start, start+step, ... for every value strictly before end.
// Arithmetic is done on UTC instants, so daylight-saving transitions never
// shift or duplicate a slot.
func (x *Index) ExpectedGrid(satellite Satellite, product Product, intervalMinutes int, start, end time.Time) ([]time.Time, error) {
	if !end.After(start) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}
	if _, err := ParseSatellite(string(satellite)); err != nil {
		return nil, err
	}
	step, err := x.Step(product, intervalMinutes)
	if err != nil {
		return nil, err
	}

	start = Normalize(start)
	end = Normalize(end)

	span := end.Sub(start)
	n := int(span / step)
	if span%step != 0 {
		n++
	}

	grid := make([]time.Time, 0, n)
	for t := start; t.Before(end); t = t.Add(step) {
		grid = append(grid, t)
	}
	return grid, nil
}

// ClassifySource returns SourceFast when now-ts is within the recent window
// (boundary inclusive) and SourceArchive otherwise.
func (x *Index) ClassifySource(ts, now time.Time) Source {
	if now.Sub(ts) <= x.recentWindow {
		return SourceFast
	}
	return SourceArchive
}

// Normalize converts t to UTC and strips the monotonic clock reading so that
// equal instants compare equal with == and reflect.DeepEqual.
func Normalize(t time.Time) time.Time {
	return time.Unix(0, t.UnixNano()).UTC()
}

// Difference returns the elements of expected that are absent from present,
// preserving the order of expected.
func Difference(expected []time.Time, present map[time.Time]struct{}) []time.Time {
	missing := make([]time.Time, 0, len(expected))
	for _, t := range expected {
		if _, ok := present[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// SortTimes sorts ts ascending in place.
func SortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
