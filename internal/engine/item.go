package engine

import (
	"time"

	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// Status is the fetch state of one Item.
type Status string

const (
	StatusMissing     Status = "missing"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusFailed      Status = "failed"
)

// Item tracks one expected observation that is not confirmed present.
//
// LocalPath is set only when Status is downloaded and Error only when it is
// failed. Progress is 0 unless Status is downloading. Source is assigned once
// at classification and is not changed by a fallback transfer.
type Item struct {
	Timestamp        time.Time           `json:"timestamp"`
	ExpectedFilename string              `json:"expected_filename"`
	Satellite        timeindex.Satellite `json:"satellite"`
	Product          timeindex.Product   `json:"product"`
	Source           timeindex.Source    `json:"source"`
	Status           Status              `json:"status"`
	Progress         int                 `json:"progress"`
	LocalPath        string              `json:"local_path,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// NewItem creates a missing item for one observation.
func NewItem(satellite timeindex.Satellite, product timeindex.Product, ts time.Time) *Item {
	ts = timeindex.Normalize(ts)
	return &Item{
		Timestamp:        ts,
		ExpectedFilename: timeindex.ExpectedFilename(satellite, product, ts),
		Satellite:        satellite,
		Product:          product,
		Status:           StatusMissing,
	}
}

// ItemsFromScan builds one missing item per timestamp in result.Missing.
func ItemsFromScan(result *ScanResult, satellite timeindex.Satellite, product timeindex.Product) []*Item {
	if result == nil {
		return []*Item{}
	}
	items := make([]*Item, 0, len(result.Missing))
	for _, ts := range result.Missing {
		items = append(items, NewItem(satellite, product, ts))
	}
	return items
}

func (it *Item) begin() {
	it.Status = StatusDownloading
	it.Progress = 0
	it.LocalPath = ""
	it.Error = ""
}

// setProgress records transfer progress as a percentage.
// Unknown totals leave the percentage unchanged.
func (it *Item) setProgress(done, total int64) {
	if total <= 0 {
		return
	}
	pct := int(done * 100 / total)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	it.Progress = pct
}

func (it *Item) succeed(path string) {
	it.Status = StatusDownloaded
	it.Progress = 0
	it.LocalPath = path
	it.Error = ""
}

func (it *Item) fail(err error) {
	it.Status = StatusFailed
	it.Progress = 0
	it.LocalPath = ""
	it.Error = err.Error()
}

// abort returns an interrupted item to missing.
func (it *Item) abort() {
	it.Status = StatusMissing
	it.Progress = 0
	it.LocalPath = ""
	it.Error = ""
}
