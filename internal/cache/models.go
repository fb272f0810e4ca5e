package cache

import "time"

// ScanResult is the outcome of one directory reconciliation.
// Existing and Missing are sorted ascending, UTC, and together equal the expected grid.
type ScanResult struct {
	Existing      []time.Time `json:"existing"`
	Missing       []time.Time `json:"missing"`
	TotalExpected int         `json:"total_expected"`
	GeneratedAt   time.Time   `json:"generated_at"`
}

// Entry is a persisted ScanResult keyed by its parameter fingerprint
type Entry struct {
	Fingerprint string
	Result      ScanResult
	CreatedAt   time.Time
}

// Stats summarizes the cache for the management UI
type Stats struct {
	EntryCount       int       `json:"entry_count"`
	ApproxSizeBytes  int64     `json:"approx_size_bytes"`
	MostRecentScan   time.Time `json:"most_recent_scan_time"`
	OutcomeCount     int       `json:"outcome_count"`
	FailedOutcomes   int       `json:"failed_outcomes"`
	DatabaseFileSize int64     `json:"database_file_size"`
}

// Outcome records the terminal state of one item's download
type Outcome struct {
	Satellite string
	Product   string
	Timestamp time.Time
	Source    string // store class assigned at classification
	StoreUsed string // store that produced the final result
	Fallback  bool
	Status    string // "downloaded", "failed"
	LocalPath string
	Error     string
	Attempts  int
	RunID     string
	UpdatedAt time.Time
}

// OutcomeFilter narrows ListOutcomes. Empty fields match everything.
type OutcomeFilter struct {
	Satellite string
	Product   string
	Status    string
	Limit     int
}

// FetchRun records one FetchMissing invocation
type FetchRun struct {
	ID        string
	Satellite string
	Product   string
	Directory string
	Total     int
	Succeeded int
	Failed    int
	Fallbacks int
	Bytes     int64
	Status    string // "running", "success", "partial", "failed", "cancelled"
	StartTime time.Time
	EndTime   time.Time
}
