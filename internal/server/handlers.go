package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/engine"
	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/safety"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// writeJSON serialises v as JSON with status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps engine failures onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, timeindex.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDirectory):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ===== Scan =====

// ScanRequestBody is the request body for POST /api/scan and POST /api/fetch.
type ScanRequestBody struct {
	// Directory is relative to archive_dir; empty means archive_dir itself.
	Directory       string    `json:"directory"`
	Satellite       string    `json:"satellite"`
	Product         string    `json:"product"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	IntervalMinutes int       `json:"interval_minutes"`
	ForceRescan     bool      `json:"force_rescan"`
	MaxConcurrency  int       `json:"max_concurrency"`
}

// toScanRequest validates the body and fills defaults from config.
func (s *Server) toScanRequest(body ScanRequestBody) (engine.ScanRequest, error) {
	sat, err := timeindex.ParseSatellite(body.Satellite)
	if err != nil {
		return engine.ScanRequest{}, err
	}
	product, err := timeindex.ParseProduct(body.Product)
	if err != nil {
		return engine.ScanRequest{}, err
	}
	if body.Start.IsZero() || body.End.IsZero() {
		return engine.ScanRequest{}, errors.New("start and end are required")
	}
	if body.IntervalMinutes < 0 {
		return engine.ScanRequest{}, fmt.Errorf("interval_minutes must not be negative, got %d", body.IntervalMinutes)
	}
	dir, err := safety.ResolveUnder(s.config.ArchiveDir, body.Directory)
	if err != nil {
		return engine.ScanRequest{}, fmt.Errorf("directory: %w", err)
	}
	return engine.ScanRequest{
		Directory:       dir,
		Satellite:       sat,
		Product:         product,
		Start:           body.Start,
		End:             body.End,
		IntervalMinutes: body.IntervalMinutes,
		ForceRescan:     body.ForceRescan,
	}, nil
}

// ScanResponseBody is the response from POST /api/scan.
type ScanResponseBody struct {
	Fingerprint string `json:"fingerprint"`
	*engine.ScanResult
	Items []*engine.Item `json:"items"`
}

// handleScan runs a synchronous directory scan.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := s.toScanRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.ScanDirectory(r.Context(), req, nil)
	if err != nil {
		s.logger.Warn("scan failed", "directory", req.Directory, "error", err)
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	fingerprint, err := s.engine.Fingerprint(req)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, ScanResponseBody{
		Fingerprint: fingerprint,
		ScanResult:  result,
		Items:       engine.ItemsFromScan(result, req.Satellite, req.Product),
	})
}

// handleDetect reports the observation range found in a directory,
// optionally limited to one satellite.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	dir, err := safety.ResolveUnder(s.config.ArchiveDir, r.URL.Query().Get("directory"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "directory: "+err.Error())
		return
	}

	var sat timeindex.Satellite
	if v := r.URL.Query().Get("satellite"); v != "" {
		if sat, err = timeindex.ParseSatellite(v); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	first, last, ok, err := s.engine.DetectDirectoryRange(dir, sat)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	resp := map[string]interface{}{"directory": dir, "found": ok}
	if ok {
		resp["first"] = first
		resp["last"] = last
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ===== Fetch =====

// handleFetch scans the request range and downloads the missing items in
// the background. Progress is available from /api/fetch/progress.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body ScanRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := s.toScanRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	workers := body.MaxConcurrency
	if workers <= 0 {
		workers = s.config.Fetch.MaxConcurrency
	}

	started := s.startFetch(func(ctx context.Context) {
		log := s.logger.With("directory", req.Directory, "satellite", req.Satellite, "product", req.Product)
		report, err := s.engine.Reconcile(ctx, req, workers, nil, nil)
		if err != nil {
			log.Error("background fetch failed", "error", err)
			return
		}
		log.Info("background fetch finished",
			"missing", len(report.Items),
			"downloaded", report.Downloaded,
			"failed", report.Failed,
		)
	})
	if !started {
		s.writeError(w, http.StatusConflict, "fetch already running")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":          "started",
		"directory":       req.Directory,
		"satellite":       req.Satellite,
		"product":         req.Product,
		"max_concurrency": workers,
	})
}

// handleCancelFetch cancels the running fetch.
func (s *Server) handleCancelFetch(w http.ResponseWriter, r *http.Request) {
	if !s.cancelFetch() {
		s.writeError(w, http.StatusNotFound, "no fetch is running")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

const progressKeepAlive = 15 * time.Second

// handleFetchProgress streams tracker snapshots as server-sent events until
// the fetch finishes or the client goes away.
func (s *Server) handleFetchProgress(w http.ResponseWriter, r *http.Request) {
	tracker := s.engine.ActiveProgress()
	if tracker == nil {
		s.writeError(w, http.StatusNotFound, "no fetch has run")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sendEvent := func(event string, data interface{}) {
		jsonData, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
		flusher.Flush()
	}

	for {
		// Take the channel before the snapshot so no update is lost in between.
		changed := tracker.Wait()
		snap := tracker.Snapshot()
		if tracker.Done() {
			sendEvent("done", snap)
			return
		}
		sendEvent("progress", snap)

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-time.After(progressKeepAlive):
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// ===== Cache =====

// CacheStatsJSON adds human-readable sizes to cache.Stats.
type CacheStatsJSON struct {
	cache.Stats
	ApproxSize   string `json:"approx_size"`
	DatabaseSize string `json:"database_size"`
	Path         string `json:"path"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Cache().Stats()
	if err != nil {
		s.logger.Error("failed to read cache stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, CacheStatsJSON{
		Stats:        stats,
		ApproxSize:   humanize.IBytes(uint64(stats.ApproxSizeBytes)),
		DatabaseSize: humanize.IBytes(uint64(stats.DatabaseFileSize)),
		Path:         s.engine.Cache().Path(),
	})
}

func (s *Server) handleCacheReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cache().Reset(); err != nil {
		s.logger.Error("failed to reset cache", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("scan cache cleared")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ===== History =====

// OutcomeJSON is the JSON representation of a per-item outcome.
type OutcomeJSON struct {
	Satellite string    `json:"satellite"`
	Product   string    `json:"product"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	StoreUsed string    `json:"store_used,omitempty"`
	Fallback  bool      `json:"fallback"`
	Status    string    `json:"status"`
	LocalPath string    `json:"local_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func outcomeToJSON(o cache.Outcome) OutcomeJSON {
	return OutcomeJSON{
		Satellite: o.Satellite,
		Product:   o.Product,
		Timestamp: o.Timestamp,
		Source:    o.Source,
		StoreUsed: o.StoreUsed,
		Fallback:  o.Fallback,
		Status:    o.Status,
		LocalPath: o.LocalPath,
		Error:     o.Error,
		Attempts:  o.Attempts,
		RunID:     o.RunID,
		UpdatedAt: o.UpdatedAt,
	}
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := cache.OutcomeFilter{
		Status: q.Get("status"),
		Limit:  parseLimit(q.Get("limit"), 100),
	}
	if v := q.Get("satellite"); v != "" {
		sat, err := timeindex.ParseSatellite(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Satellite = string(sat)
	}
	if v := q.Get("product"); v != "" {
		p, err := timeindex.ParseProduct(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Product = string(p)
	}

	outcomes, err := s.engine.Cache().ListOutcomes(filter)
	if err != nil {
		s.logger.Error("failed to list outcomes", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]OutcomeJSON, 0, len(outcomes))
	for _, o := range outcomes {
		resp = append(resp, outcomeToJSON(o))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// RunJSON is the JSON representation of a fetch run.
type RunJSON struct {
	ID        string     `json:"id"`
	Satellite string     `json:"satellite"`
	Product   string     `json:"product"`
	Directory string     `json:"directory"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Fallbacks int        `json:"fallbacks"`
	Bytes     int64      `json:"bytes"`
	BytesText string     `json:"bytes_text"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func runToJSON(run cache.FetchRun) RunJSON {
	out := RunJSON{
		ID:        run.ID,
		Satellite: run.Satellite,
		Product:   run.Product,
		Directory: run.Directory,
		Total:     run.Total,
		Succeeded: run.Succeeded,
		Failed:    run.Failed,
		Fallbacks: run.Fallbacks,
		Bytes:     run.Bytes,
		BytesText: humanize.IBytes(uint64(run.Bytes)),
		Status:    run.Status,
		StartTime: run.StartTime,
	}
	if !run.EndTime.IsZero() {
		end := run.EndTime
		out.EndTime = &end
	}
	return out
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.engine.Cache().ListRuns(parseLimit(r.URL.Query().Get("limit"), 20))
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToJSON(run))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func parseLimit(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}
