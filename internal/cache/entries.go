package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Fingerprint derives the cache key for one scan's parameters. step is the
// grid spacing actually used, never the "auto" sentinel, so a change to the
// cadence table is a miss. Every input participates.
func Fingerprint(directory, satellite, product string, start, end time.Time, step time.Duration) string {
	var b strings.Builder
	b.WriteString("v2\x00")
	b.WriteString(filepath.Clean(directory))
	b.WriteByte(0)
	b.WriteString(satellite)
	b.WriteByte(0)
	b.WriteString(product)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(start.UnixNano(), 10))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(end.UnixNano(), 10))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(int64(step), 10))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the entry stored under fingerprint. ok is false on a miss.
func (c *ResultCache) Lookup(fingerprint string) (entry *Entry, ok bool, err error) {
	unlock := c.locks.Lock(fingerprint)
	defer unlock()

	const query = `
		SELECT existing, missing, total_expected, generated_at, created_at
		FROM scan_cache WHERE fingerprint = ?
	`

	var (
		existingJSON, missingJSON string
		total                     int
		generatedAt, createdAt    int64
	)
	err = c.db.QueryRow(query, fingerprint).Scan(&existingJSON, &missingJSON, &total, &generatedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, storageErr("lookup", err)
	}

	existing, err := decodeTimes(existingJSON)
	if err != nil {
		return nil, false, storageErr("lookup", fmt.Errorf("decode existing: %w", err))
	}
	missing, err := decodeTimes(missingJSON)
	if err != nil {
		return nil, false, storageErr("lookup", fmt.Errorf("decode missing: %w", err))
	}

	return &Entry{
		Fingerprint: fingerprint,
		Result: ScanResult{
			Existing:      existing,
			Missing:       missing,
			TotalExpected: total,
			GeneratedAt:   fromNanos(generatedAt),
		},
		CreatedAt: fromNanos(createdAt),
	}, true, nil
}

// Store writes result under fingerprint, replacing any previous entry.
func (c *ResultCache) Store(fingerprint string, result ScanResult) error {
	unlock := c.locks.Lock(fingerprint)
	defer unlock()

	existingJSON, err := encodeTimes(result.Existing)
	if err != nil {
		return storageErr("store", fmt.Errorf("encode existing: %w", err))
	}
	missingJSON, err := encodeTimes(result.Missing)
	if err != nil {
		return storageErr("store", fmt.Errorf("encode missing: %w", err))
	}

	const query = `
		INSERT OR REPLACE INTO scan_cache (
			fingerprint, existing, missing, total_expected, generated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := c.db.Exec(query,
		fingerprint, existingJSON, missingJSON, result.TotalExpected,
		result.GeneratedAt.UnixNano(), time.Now().UnixNano(),
	); err != nil {
		return storageErr("store", err)
	}

	c.logger.Debug("scan result cached",
		"fingerprint", shortFingerprint(fingerprint),
		"existing", len(result.Existing),
		"missing", len(result.Missing),
	)
	return nil
}

// Invalidate removes a single fingerprint. Missing entries are ignored.
func (c *ResultCache) Invalidate(fingerprint string) error {
	unlock := c.locks.Lock(fingerprint)
	defer unlock()

	if _, err := c.db.Exec(`DELETE FROM scan_cache WHERE fingerprint = ?`, fingerprint); err != nil {
		return storageErr("invalidate", err)
	}
	return nil
}

// Reset drops every cached scan result and item outcome.
// Fetch run history is kept.
func (c *ResultCache) Reset() error {
	tx, err := c.db.Begin()
	if err != nil {
		return storageErr("reset", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scan_cache`); err != nil {
		return storageErr("reset", fmt.Errorf("clear scan results: %w", err))
	}
	if _, err := tx.Exec(`DELETE FROM item_outcomes`); err != nil {
		return storageErr("reset", fmt.Errorf("clear item outcomes: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return storageErr("reset", fmt.Errorf("commit: %w", err))
	}

	c.logger.Info("result cache reset", "path", c.path)
	return nil
}

// Stats reports entry count, approximate payload size, and the newest scan time.
func (c *ResultCache) Stats() (Stats, error) {
	var (
		st          Stats
		size        sql.NullInt64
		mostRecent  sql.NullInt64
		failedCount sql.NullInt64
	)

	err := c.db.QueryRow(`
		SELECT COUNT(*),
		       SUM(length(existing) + length(missing) + length(fingerprint)),
		       MAX(generated_at)
		FROM scan_cache
	`).Scan(&st.EntryCount, &size, &mostRecent)
	if err != nil {
		return Stats{}, storageErr("stats", err)
	}
	st.ApproxSizeBytes = size.Int64
	if mostRecent.Valid {
		st.MostRecentScan = fromNanos(mostRecent.Int64)
	}

	err = c.db.QueryRow(`
		SELECT COUNT(*), SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END)
		FROM item_outcomes
	`).Scan(&st.OutcomeCount, &failedCount)
	if err != nil {
		return Stats{}, storageErr("stats", err)
	}
	st.FailedOutcomes = int(failedCount.Int64)

	if fi, err := os.Stat(c.path); err == nil {
		st.DatabaseFileSize = fi.Size()
	}

	return st, nil
}

func encodeTimes(ts []time.Time) (string, error) {
	nanos := make([]int64, len(ts))
	for i, t := range ts {
		nanos[i] = t.UnixNano()
	}
	data, err := json.Marshal(nanos)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTimes(s string) ([]time.Time, error) {
	var nanos []int64
	if err := json.Unmarshal([]byte(s), &nanos); err != nil {
		return nil, err
	}
	ts := make([]time.Time, len(nanos))
	for i, n := range nanos {
		ts[i] = fromNanos(n)
	}
	return ts, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
