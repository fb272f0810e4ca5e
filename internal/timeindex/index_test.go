package timeindex

import (
	"errors"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

// TestExpectedGridTenMinutes checks the one-hour, 10-minute scenario
func TestExpectedGridTenMinutes(t *testing.T) {
	x := New(Options{})
	start := mustTime(t, "2023-01-01T00:00:00Z")
	end := mustTime(t, "2023-01-01T01:00:00Z")

	grid, err := x.ExpectedGrid(GOES16, FullDisk, 10, start, end)
	if err != nil {
		t.Fatalf("ExpectedGrid: %v", err)
	}

	want := []string{"00:00", "00:10", "00:20", "00:30", "00:40", "00:50"}
	if len(grid) != len(want) {
		t.Fatalf("expected %d timestamps, got %d", len(want), len(grid))
	}
	for i, ts := range grid {
		if got := ts.Format("15:04"); got != want[i] {
			t.Errorf("grid[%d] = %s, want %s", i, got, want[i])
		}
		if ts.Location() != time.UTC {
			t.Errorf("grid[%d] not in UTC: %v", i, ts.Location())
		}
	}
}

// TestExpectedGridCompleteness checks len == ceil(span/interval) and bounds
func TestExpectedGridCompleteness(t *testing.T) {
	x := New(Options{})
	start := mustTime(t, "2023-03-12T06:07:00Z")

	tests := []struct {
		name     string
		span     time.Duration
		interval int
	}{
		{"exact multiple", 2 * time.Hour, 10},
		{"remainder", 95 * time.Minute, 10},
		{"shorter than interval", 3 * time.Minute, 10},
		{"one minute", 61 * time.Minute, 1},
		{"odd interval", 24 * time.Hour, 7},
		{"across US DST change", 48 * time.Hour, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end := start.Add(tt.span)
			grid, err := x.ExpectedGrid(GOES18, CONUS, tt.interval, start, end)
			if err != nil {
				t.Fatalf("ExpectedGrid: %v", err)
			}
			step := time.Duration(tt.interval) * time.Minute
			want := int((tt.span + step - 1) / step)
			if len(grid) != want {
				t.Errorf("len = %d, want %d", len(grid), want)
			}
			for i, ts := range grid {
				if ts.Before(start) || !ts.Before(end) {
					t.Errorf("grid[%d] = %s outside [%s, %s)", i, ts, start, end)
				}
				if i > 0 && ts.Sub(grid[i-1]) != step {
					t.Errorf("grid[%d] spacing = %s, want %s", i, ts.Sub(grid[i-1]), step)
				}
			}
		})
	}
}

// TestExpectedGridAutoCadence uses the product's native cadence when interval is 0
func TestExpectedGridAutoCadence(t *testing.T) {
	start := mustTime(t, "2023-01-01T00:00:00Z")
	end := mustTime(t, "2023-01-01T01:00:00Z")

	tests := []struct {
		product Product
		want    int
	}{
		{FullDisk, 6},
		{CONUS, 12},
		{Mesoscale1, 60},
		{Mesoscale2, 60},
	}

	x := New(Options{})
	for _, tt := range tests {
		t.Run(string(tt.product), func(t *testing.T) {
			grid, err := x.ExpectedGrid(GOES16, tt.product, 0, start, end)
			if err != nil {
				t.Fatalf("ExpectedGrid: %v", err)
			}
			if len(grid) != tt.want {
				t.Errorf("len = %d, want %d", len(grid), tt.want)
			}
		})
	}

	overridden := New(Options{Cadence: map[Product]time.Duration{FullDisk: 15 * time.Minute}})
	grid, err := overridden.ExpectedGrid(GOES16, FullDisk, 0, start, end)
	if err != nil {
		t.Fatalf("ExpectedGrid: %v", err)
	}
	if len(grid) != 4 {
		t.Errorf("configured cadence: len = %d, want 4", len(grid))
	}
}

func TestExpectedGridInvalidRange(t *testing.T) {
	x := New(Options{})
	start := mustTime(t, "2023-01-01T00:00:00Z")

	for _, end := range []time.Time{start, start.Add(-time.Minute)} {
		_, err := x.ExpectedGrid(GOES16, FullDisk, 10, start, end)
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("end=%s: expected ErrInvalidRange, got %v", end, err)
		}
		var rangeErr *InvalidRangeError
		if !errors.As(err, &rangeErr) {
			t.Errorf("end=%s: expected *InvalidRangeError, got %T", end, err)
		}
	}
}

func TestExpectedGridRejectsBadInputs(t *testing.T) {
	x := New(Options{})
	start := mustTime(t, "2023-01-01T00:00:00Z")
	end := start.Add(time.Hour)

	if _, err := x.ExpectedGrid(GOES16, FullDisk, -5, start, end); err == nil {
		t.Error("expected error for negative interval")
	}
	if _, err := x.ExpectedGrid(GOES16, Product("XX"), 0, start, end); err == nil {
		t.Error("expected error for unknown product with auto cadence")
	}
	if _, err := x.ExpectedGrid(Satellite("goes99"), FullDisk, 10, start, end); err == nil {
		t.Error("expected error for unknown satellite")
	}
}

// TestClassifySourceBoundary checks the inclusive recent-window boundary
func TestClassifySourceBoundary(t *testing.T) {
	x := New(Options{RecentWindow: 7 * 24 * time.Hour})
	now := mustTime(t, "2023-01-08T00:00:00Z")

	tests := []struct {
		ts   string
		want Source
	}{
		{"2023-01-01T00:00:00Z", SourceFast},
		{"2022-12-31T23:59:59Z", SourceArchive},
		{"2023-01-07T12:00:00Z", SourceFast},
		{"2023-01-09T00:00:00Z", SourceFast},
		{"2020-06-01T00:00:00Z", SourceArchive},
	}

	for _, tt := range tests {
		t.Run(tt.ts, func(t *testing.T) {
			if got := x.ClassifySource(mustTime(t, tt.ts), now); got != tt.want {
				t.Errorf("ClassifySource(%s) = %s, want %s", tt.ts, got, tt.want)
			}
		})
	}
}

func TestSourceOther(t *testing.T) {
	if SourceFast.Other() != SourceArchive || SourceArchive.Other() != SourceFast {
		t.Error("Other should swap fast and archive")
	}
	if SourceUnassigned.Other() != SourceUnassigned {
		t.Error("Other of unassigned should stay unassigned")
	}
}

// TestDifferencePartition checks existing and missing partition the grid
func TestDifferencePartition(t *testing.T) {
	x := New(Options{})
	start := mustTime(t, "2023-01-01T00:00:00Z")
	grid, err := x.ExpectedGrid(GOES16, FullDisk, 10, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpectedGrid: %v", err)
	}

	present := map[time.Time]struct{}{
		grid[0]: {},
		grid[3]: {},
	}
	missing := Difference(grid, present)

	want := []string{"00:10", "00:20", "00:40", "00:50"}
	if len(missing) != len(want) {
		t.Fatalf("missing len = %d, want %d", len(missing), len(want))
	}
	for i, ts := range missing {
		if ts.Format("15:04") != want[i] {
			t.Errorf("missing[%d] = %s, want %s", i, ts.Format("15:04"), want[i])
		}
		if _, ok := present[ts]; ok {
			t.Errorf("missing[%d] also present", i)
		}
	}
	if len(missing)+len(present) != len(grid) {
		t.Errorf("existing ∪ missing has %d elements, want %d", len(missing)+len(present), len(grid))
	}
}

func TestNormalizeStripsMonotonic(t *testing.T) {
	now := time.Now()
	n := Normalize(now)
	if n != Normalize(n) {
		t.Error("Normalize should be idempotent under ==")
	}
	if !n.Equal(now) {
		t.Error("Normalize should preserve the instant")
	}
}
