package engine

import (
	"sort"
	"sync"
	"time"
)

// FetchPhase represents the current phase of a fetch run.
type FetchPhase string

const (
	PhaseClassifying FetchPhase = "classifying"
	PhaseDownloading FetchPhase = "downloading"
	PhaseComplete    FetchPhase = "complete"
	PhaseFailed      FetchPhase = "failed"
	PhaseCancelled   FetchPhase = "cancelled"
)

// ItemEvent records a finished item for the recent activity log.
type ItemEvent struct {
	Filename string `json:"filename"`
	Status   string `json:"status"` // "downloaded", "failed"
	Store    string `json:"store,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Error    string `json:"error,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ItemProgress is the byte-level state of one in-flight item.
type ItemProgress struct {
	Filename        string `json:"filename"`
	Store           string `json:"store"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	TotalBytes      int64  `json:"total_bytes"`
}

// FetchProgress is a snapshot of a fetch run, safe for JSON serialization.
type FetchProgress struct {
	RunID           string         `json:"run_id"`
	Satellite       string         `json:"satellite"`
	Product         string         `json:"product"`
	Phase           FetchPhase     `json:"phase"`
	TotalItems      int            `json:"total_items"`
	CompletedItems  int            `json:"completed_items"`
	FailedItems     int            `json:"failed_items"`
	Fallbacks       int            `json:"fallbacks"`
	BytesDownloaded int64          `json:"bytes_downloaded"`
	Percent         float64        `json:"percent"`
	CurrentItems    []ItemProgress `json:"current_items,omitempty"`
	RecentEvents    []ItemEvent    `json:"recent_events,omitempty"`
	BytesPerSecond  int64          `json:"bytes_per_second"`
	StartTime       time.Time      `json:"start_time"`
	Elapsed         string         `json:"elapsed"`
	Message         string         `json:"message,omitempty"`
}

// FetchTracker accumulates progress from fetch workers in a thread-safe manner.
// SSE handlers use Wait() to block until new updates are available.
type FetchTracker struct {
	mu sync.Mutex

	runID          string
	satellite      string
	product        string
	phase          FetchPhase
	totalItems     int
	completedItems int
	failedItems    int
	fallbacks      int
	finishedBytes  int64
	startTime      time.Time
	message        string

	// In-flight items keyed by filename.
	current map[string]*ItemProgress

	// Rolling log of recent finished items (capped at maxRecentEvents).
	recentEvents []ItemEvent

	// Close-and-replace: every update closes the channel handed out by Wait.
	notify chan struct{}

	// Per-item throttle for byte updates.
	lastUpdate map[string]time.Time
}

const (
	maxRecentEvents  = 20
	progressThrottle = 250 * time.Millisecond
)

// NewFetchTracker creates a tracker for one fetch run.
func NewFetchTracker(runID, satellite, product string) *FetchTracker {
	return &FetchTracker{
		runID:      runID,
		satellite:  satellite,
		product:    product,
		phase:      PhaseClassifying,
		startTime:  time.Now(),
		current:    make(map[string]*ItemProgress),
		notify:     make(chan struct{}),
		lastUpdate: make(map[string]time.Time),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *FetchTracker) Snapshot() FetchProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalItems > 0 {
		pct = float64(t.completedItems+t.failedItems) / float64(t.totalItems) * 100
	}

	bytes := t.finishedBytes
	current := make([]ItemProgress, 0, len(t.current))
	for _, ip := range t.current {
		current = append(current, *ip)
		bytes += ip.BytesDownloaded
	}
	sort.Slice(current, func(i, j int) bool {
		return current[i].Filename < current[j].Filename
	})

	recent := make([]ItemEvent, len(t.recentEvents))
	copy(recent, t.recentEvents)

	elapsed := time.Since(t.startTime)
	var bytesPerSecond int64
	if elapsed > time.Second && bytes > 0 {
		bytesPerSecond = int64(float64(bytes) / elapsed.Seconds())
	}

	return FetchProgress{
		RunID:           t.runID,
		Satellite:       t.satellite,
		Product:         t.product,
		Phase:           t.phase,
		TotalItems:      t.totalItems,
		CompletedItems:  t.completedItems,
		FailedItems:     t.failedItems,
		Fallbacks:       t.fallbacks,
		BytesDownloaded: bytes,
		Percent:         pct,
		CurrentItems:    current,
		RecentEvents:    recent,
		BytesPerSecond:  bytesPerSecond,
		StartTime:       t.startTime,
		Elapsed:         elapsed.Truncate(time.Second).String(),
		Message:         t.message,
	}
}

// Done reports whether the run reached a terminal phase.
func (t *FetchTracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.phase {
	case PhaseComplete, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout for heartbeats.
func (t *FetchTracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal must be called with t.mu held.
func (t *FetchTracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// SetPhase updates the current phase.
func (t *FetchTracker) SetPhase(phase FetchPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.signal()
}

// SetTotal sets the number of items in the run.
func (t *FetchTracker) SetTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalItems = n
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *FetchTracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// ItemStarted registers an in-flight transfer against store.
func (t *FetchTracker) ItemStarted(filename, store string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current[filename] = &ItemProgress{Filename: filename, Store: store}
	delete(t.lastUpdate, filename)
	t.signal()
}

// UpdateItemProgress records byte progress for an in-flight item.
// Throttled to one update per item every 250ms.
func (t *FetchTracker) UpdateItemProgress(filename string, done, total int64) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastUpdate[filename]; ok && now.Sub(last) < progressThrottle {
		return
	}
	t.lastUpdate[filename] = now

	ip, ok := t.current[filename]
	if !ok {
		return
	}
	ip.BytesDownloaded = done
	ip.TotalBytes = total
	t.signal()
}

// addRecentEvent must be called with t.mu held.
func (t *FetchTracker) addRecentEvent(ev ItemEvent) {
	t.recentEvents = append([]ItemEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
}

func (t *FetchTracker) finish(filename string) {
	delete(t.current, filename)
	delete(t.lastUpdate, filename)
}

// ItemCompleted marks an item as downloaded.
func (t *FetchTracker) ItemCompleted(filename, store string, fallback bool, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish(filename)
	t.completedItems++
	t.finishedBytes += size
	if fallback {
		t.fallbacks++
	}
	t.addRecentEvent(ItemEvent{Filename: filename, Status: string(StatusDownloaded), Store: store, Fallback: fallback, Size: size})
	t.signal()
}

// ItemFailed marks an item as failed with an error reason.
func (t *FetchTracker) ItemFailed(filename, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish(filename)
	t.failedItems++
	t.addRecentEvent(ItemEvent{Filename: filename, Status: string(StatusFailed), Error: errMsg})
	t.signal()
}

// ItemAborted drops an in-flight item interrupted by cancellation.
func (t *FetchTracker) ItemAborted(filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish(filename)
	t.signal()
}
