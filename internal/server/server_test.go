package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/config"
	"github.com/BadgerOps/goesfill/internal/engine"
	"github.com/BadgerOps/goesfill/internal/remote"
)

// fakeStore writes a small file per object. When block is set, downloads
// wait for cancellation.
type fakeStore struct {
	block   bool
	started chan struct{}
	calls   atomic.Int32
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) Exists(ctx context.Context, obj remote.Object) (bool, error) {
	return true, nil
}

func (f *fakeStore) Download(ctx context.Context, obj remote.Object, dest string, onProgress remote.ProgressFunc) (string, error) {
	f.calls.Add(1)
	if f.block {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", &remote.Error{Store: "fake", Op: "download", Kind: remote.ErrCancelled, Err: ctx.Err()}
	}
	if onProgress != nil {
		onProgress(4, 4)
	}
	if err := os.WriteFile(dest, []byte("data"), 0644); err != nil {
		return "", err
	}
	return dest, nil
}

func setupTestServer(t *testing.T, store *fakeStore) (*Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rc, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := rc.Close(); err != nil {
			t.Fatalf("failed to close cache: %v", err)
		}
	})

	if store == nil {
		store = &fakeStore{}
	}
	eng, err := engine.New(engine.Options{
		Cache:   rc,
		Fast:    store,
		Archive: store,
		Logger:  logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.ArchiveDir = t.TempDir()
	cfg.Fetch.MaxConcurrency = 2

	srv := NewServer(eng, cfg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, cfg.ArchiveDir
}

const scanBody = `{"satellite":"goes16","product":"FD","start":"2023-01-01T00:00:00Z","end":"2023-01-01T01:00:00Z","interval_minutes":10}`

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func waitForFetch(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.waitFetch(ctx)
	if ctx.Err() != nil {
		t.Fatal("background fetch did not finish")
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHandleScan(t *testing.T) {
	srv, dir := setupTestServer(t, nil)
	writeFiles(t, dir, "goes16_FD_20230101T000000Z.nc", "goes16_FD_20230101T003000Z.nc")

	w := do(t, srv, http.MethodPost, "/api/scan", scanBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Fingerprint   string        `json:"fingerprint"`
		Existing      []time.Time   `json:"existing"`
		Missing       []time.Time   `json:"missing"`
		TotalExpected int           `json:"total_expected"`
		Items         []engine.Item `json:"items"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.TotalExpected != 6 || len(resp.Existing) != 2 || len(resp.Missing) != 4 {
		t.Errorf("unexpected scan result: %+v", resp)
	}
	if len(resp.Items) != 4 || resp.Items[0].ExpectedFilename != "goes16_FD_20230101T001000Z.nc" {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
	if len(resp.Fingerprint) != 64 {
		t.Errorf("fingerprint = %q", resp.Fingerprint)
	}
	if _, ok, err := srv.engine.Cache().Lookup(resp.Fingerprint); err != nil || !ok {
		t.Errorf("reported fingerprint is not the cache key: ok=%v err=%v", ok, err)
	}
}

func TestHandleScanErrors(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"satellite":`, http.StatusBadRequest},
		{"unknown satellite", `{"satellite":"goes99","product":"FD","start":"2023-01-01T00:00:00Z","end":"2023-01-01T01:00:00Z"}`, http.StatusBadRequest},
		{"missing range", `{"satellite":"goes16","product":"FD"}`, http.StatusBadRequest},
		{"inverted range", `{"satellite":"goes16","product":"FD","start":"2023-01-01T01:00:00Z","end":"2023-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"missing directory", `{"directory":"nosuchdir","satellite":"goes16","product":"FD","start":"2023-01-01T00:00:00Z","end":"2023-01-01T01:00:00Z"}`, http.StatusNotFound},
		{"directory outside archive", `{"directory":"/etc","satellite":"goes16","product":"FD","start":"2023-01-01T00:00:00Z","end":"2023-01-01T01:00:00Z"}`, http.StatusBadRequest},
		{"directory traversal", `{"directory":"../other","satellite":"goes16","product":"FD","start":"2023-01-01T00:00:00Z","end":"2023-01-01T01:00:00Z"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/scan", tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var payload map[string]string
			if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if payload["error"] == "" {
				t.Errorf("expected error message, got %#v", payload)
			}
		})
	}
}

func TestHandleDetect(t *testing.T) {
	srv, dir := setupTestServer(t, nil)
	writeFiles(t, dir, "goes16_FD_20230101T000000Z.nc", "goes16_FD_20230105T120000Z.nc")

	w := do(t, srv, http.MethodGet, "/api/detect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Found bool      `json:"found"`
		First time.Time `json:"first"`
		Last  time.Time `json:"last"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Found || !resp.Last.Equal(time.Date(2023, 1, 5, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected detect response %+v", resp)
	}

	writeFiles(t, dir, "goes18_FD_20230109T000000Z.nc")
	w = do(t, srv, http.MethodGet, "/api/detect?satellite=goes16", "")
	resp.Last = time.Time{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || !resp.Last.Equal(time.Date(2023, 1, 5, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("satellite filter: code %d, last %v", w.Code, resp.Last)
	}
	if w := do(t, srv, http.MethodGet, "/api/detect?satellite=goes99", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown satellite: expected 400, got %d", w.Code)
	}

	if w := do(t, srv, http.MethodGet, "/api/detect?directory=../..", ""); w.Code != http.StatusBadRequest {
		t.Errorf("traversal: expected 400, got %d", w.Code)
	}
}

func TestHandleFetchRunsInBackground(t *testing.T) {
	store := &fakeStore{}
	srv, dir := setupTestServer(t, store)
	writeFiles(t, dir, "goes16_FD_20230101T000000Z.nc")

	w := do(t, srv, http.MethodPost, "/api/fetch", scanBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	waitForFetch(t, srv)

	if store.calls.Load() != 5 {
		t.Errorf("downloads = %d, want 5", store.calls.Load())
	}
	if _, err := os.Stat(filepath.Join(dir, "goes16_FD_20230101T005000Z.nc")); err != nil {
		t.Errorf("expected downloaded file: %v", err)
	}

	w = do(t, srv, http.MethodGet, "/api/runs", "")
	var runs []RunJSON
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != "success" || runs[0].Succeeded != 5 || runs[0].EndTime == nil {
		t.Errorf("unexpected runs: %+v", runs)
	}

	w = do(t, srv, http.MethodGet, "/api/outcomes?satellite=goes-16&status=downloaded", "")
	var outcomes []OutcomeJSON
	if err := json.NewDecoder(w.Body).Decode(&outcomes); err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 5 || outcomes[0].RunID != runs[0].ID {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}

	// The finished tracker is reported as a single done event.
	req := httptest.NewRequest(http.MethodGet, "/api/fetch/progress", nil)
	rec := httptest.NewRecorder()
	srv.handleFetchProgress(rec, req)
	body := rec.Body.String()
	if !strings.Contains(body, "event: done") || strings.Contains(body, "event: progress") {
		t.Errorf("unexpected stream: %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestHandleFetchConflict(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	srv.fetchMu.Lock()
	srv.fetchRunning = true
	srv.fetchMu.Unlock()
	defer func() {
		srv.fetchMu.Lock()
		srv.fetchRunning = false
		srv.fetchMu.Unlock()
	}()

	w := do(t, srv, http.MethodPost, "/api/fetch", scanBody)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestHandleCancelFetch(t *testing.T) {
	store := &fakeStore{block: true, started: make(chan struct{}, 1)}
	srv, _ := setupTestServer(t, store)

	if w := do(t, srv, http.MethodDelete, "/api/fetch/current", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with nothing running, got %d", w.Code)
	}

	w := do(t, srv, http.MethodPost, "/api/fetch", scanBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	if w := do(t, srv, http.MethodDelete, "/api/fetch/current", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	waitForFetch(t, srv)

	runs, err := srv.engine.Cache().ListRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != "cancelled" {
		t.Errorf("unexpected runs: %+v", runs)
	}
	if phase := srv.engine.ActiveProgress().Snapshot().Phase; phase != engine.PhaseCancelled {
		t.Errorf("phase = %q, want cancelled", phase)
	}
}

func TestHandleFetchProgressNoRun(t *testing.T) {
	srv, _ := setupTestServer(t, nil)
	w := do(t, srv, http.MethodGet, "/api/fetch/progress", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleCacheStatsAndReset(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	if w := do(t, srv, http.MethodPost, "/api/scan", scanBody); w.Code != http.StatusOK {
		t.Fatalf("scan failed: %d %s", w.Code, w.Body.String())
	}

	w := do(t, srv, http.MethodGet, "/api/cache/stats", "")
	var stats CacheStatsJSON
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.EntryCount != 1 || stats.ApproxSize == "" || stats.Path == "" {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if w := do(t, srv, http.MethodDelete, "/api/cache", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/api/cache/stats", "")
	stats = CacheStatsJSON{}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.EntryCount != 0 {
		t.Errorf("EntryCount after reset = %d", stats.EntryCount)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"-3", 20},
		{"5", 5},
		{"5000", 1000},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.in, 20); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
