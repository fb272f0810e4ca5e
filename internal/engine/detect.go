package engine

import (
	"time"

	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// DetectDirectoryRange returns the earliest and latest observation times
// among the file names in dir that belong to satellite (any satellite when
// empty). ok is false when no file name matched.
func (e *Engine) DetectDirectoryRange(dir string, satellite timeindex.Satellite) (first, last time.Time, ok bool, err error) {
	entries, err := e.readDir(dir)
	if err != nil {
		return time.Time{}, time.Time{}, false, &DirectoryError{Path: dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	first, last, ok = timeindex.DetectSatelliteRange(names, satellite)
	return first, last, ok, nil
}
