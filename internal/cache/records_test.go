package cache

import (
	"testing"
	"time"
)

func TestRecordOutcomeUpsert(t *testing.T) {
	c := newTestCache(t)
	ts := utc(2023, 1, 1, 0, 10)

	first := &Outcome{
		Satellite: "goes16", Product: "FD", Timestamp: ts,
		Source: "fast", StoreUsed: "fast", Status: "failed", Error: "http error 503",
		RunID: "run-1",
	}
	if err := c.RecordOutcome(first); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	second := &Outcome{
		Satellite: "goes16", Product: "FD", Timestamp: ts,
		Source: "fast", StoreUsed: "archive", Fallback: true, Status: "downloaded",
		LocalPath: "/data/goes16_FD_20230101T001000Z.nc", RunID: "run-2",
	}
	if err := c.RecordOutcome(second); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	got, ok, err := c.GetOutcome("goes16", "FD", ts)
	if err != nil {
		t.Fatalf("GetOutcome: %v", err)
	}
	if !ok {
		t.Fatal("expected outcome")
	}
	if got.Status != "downloaded" || got.StoreUsed != "archive" || !got.Fallback {
		t.Errorf("unexpected outcome: %+v", got)
	}
	if got.Source != "fast" {
		t.Errorf("Source = %s, want fast", got.Source)
	}
	if got.Error != "" {
		t.Errorf("Error should be cleared, got %q", got.Error)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %s, want %s", got.Timestamp, ts)
	}

	if _, ok, err := c.GetOutcome("goes18", "FD", ts); err != nil || ok {
		t.Errorf("expected no outcome for goes18, ok=%v err=%v", ok, err)
	}
}

func TestListOutcomesFilter(t *testing.T) {
	c := newTestCache(t)
	base := utc(2023, 1, 1, 0, 0)

	for i, status := range []string{"downloaded", "failed", "failed", "downloaded"} {
		sat := "goes16"
		if i == 3 {
			sat = "goes18"
		}
		err := c.RecordOutcome(&Outcome{
			Satellite: sat, Product: "FD", Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
			Source: "archive", StoreUsed: "archive", Status: status,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter OutcomeFilter
		want   int
	}{
		{"all", OutcomeFilter{}, 4},
		{"failed", OutcomeFilter{Status: "failed"}, 2},
		{"goes18", OutcomeFilter{Satellite: "goes18"}, 1},
		{"limit", OutcomeFilter{Limit: 3}, 3},
		{"no product match", OutcomeFilter{Product: "CONUS"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ListOutcomes(tt.filter)
			if err != nil {
				t.Fatalf("ListOutcomes: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d outcomes, want %d", len(got), tt.want)
			}
		})
	}

	all, _ := c.ListOutcomes(OutcomeFilter{})
	if len(all) > 0 && all[0].Satellite != "goes18" {
		t.Errorf("expected newest outcome first, got %+v", all[0])
	}
}

func TestFetchRunLifecycle(t *testing.T) {
	c := newTestCache(t)
	start := utc(2023, 1, 8, 12, 0)

	run := &FetchRun{
		ID: "11111111-2222-3333-4444-555555555555", Satellite: "goes16", Product: "FD",
		Directory: "/data", Total: 4, Status: "running", StartTime: start,
	}
	if err := c.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.Succeeded = 3
	run.Failed = 1
	run.Fallbacks = 1
	run.Bytes = 4096
	run.Status = "partial"
	run.EndTime = start.Add(time.Minute)
	if err := c.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	later := &FetchRun{ID: "later", Satellite: "goes18", Product: "CONUS", Directory: "/data", Status: "running", StartTime: start.Add(time.Hour)}
	if err := c.CreateRun(later); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	runs, err := c.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "later" {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}
	if !runs[0].EndTime.IsZero() {
		t.Errorf("running run should have zero EndTime, got %s", runs[0].EndTime)
	}
	got := runs[1]
	if got.Succeeded != 3 || got.Failed != 1 || got.Fallbacks != 1 || got.Bytes != 4096 || got.Status != "partial" {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.EndTime.Equal(run.EndTime) {
		t.Errorf("EndTime = %s, want %s", got.EndTime, run.EndTime)
	}

	limited, err := c.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 run with limit, got %d", len(limited))
	}
}

func TestRunErrors(t *testing.T) {
	c := newTestCache(t)
	if err := c.CreateRun(&FetchRun{}); err == nil {
		t.Error("expected error for empty run id")
	}
	if err := c.UpdateRun(&FetchRun{ID: "missing"}); err == nil {
		t.Error("expected error updating unknown run")
	}
}

// TestResetKeepsRunHistory verifies Reset clears outcomes but not runs
func TestResetKeepsRunHistory(t *testing.T) {
	c := newTestCache(t)
	if err := c.CreateRun(&FetchRun{ID: "r", Satellite: "goes16", Product: "FD", Status: "success", StartTime: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	runs, err := c.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected run history to survive reset, got %d runs", len(runs))
	}
}
