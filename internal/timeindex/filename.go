package timeindex

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotMatched is returned by ParseFilename when a name carries no
// recognizable timestamp or an ambiguous satellite token.
var ErrNotMatched = errors.New("filename not matched")

// LocalExtension is the extension used for files written into the archive.
const LocalExtension = ".nc"

const compactLayout = "20060102T150405Z"

var (
	// 20230101T001000Z
	compactRe = regexp.MustCompile(`(\d{8})T(\d{6})Z?`)
	// s20230010010204 (scan start: year, day of year, HHMMSS, tenths)
	scanStartRe = regexp.MustCompile(`(?:^|_)s(\d{4})(\d{3})(\d{2})(\d{2})(\d{2})\d?(?:_|$|\.)`)
	// 20230010010_GOES16-ABI-FD-13 (year, day of year, HHMM)
	cdnRe = regexp.MustCompile(`(?:^|[^0-9])(\d{4})(\d{3})(\d{2})(\d{2})_`)

	tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// ExpectedFilename is the local file name for one observation.
func ExpectedFilename(satellite Satellite, product Product, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s", satellite, product, ts.UTC().Format(compactLayout), LocalExtension)
}

// ParseFilename extracts the satellite and observation time from a file name.
// The returned time is truncated to the minute so archive scan-start seconds
// land on their grid slot. Names mentioning both satellites, or neither,
// return ErrNotMatched.
func ParseFilename(name string) (Satellite, time.Time, error) {
	base := filepath.Base(name)

	sat, ok := satelliteToken(base)
	if !ok {
		return "", time.Time{}, ErrNotMatched
	}
	ts, ok := timestampToken(base)
	if !ok {
		return "", time.Time{}, ErrNotMatched
	}
	return sat, ts.Truncate(time.Minute), nil
}

func satelliteToken(base string) (Satellite, bool) {
	tokens := tokenSplitRe.Split(strings.ToLower(base), -1)
	found := make(map[Satellite]bool, 2)
	for i, tok := range tokens {
		switch tok {
		case "goes16", "g16":
			found[GOES16] = true
		case "goes18", "g18":
			found[GOES18] = true
		case "goes":
			if i+1 < len(tokens) {
				switch tokens[i+1] {
				case "16":
					found[GOES16] = true
				case "18":
					found[GOES18] = true
				}
			}
		}
	}
	if len(found) != 1 {
		return "", false
	}
	for sat := range found {
		return sat, true
	}
	return "", false
}

func timestampToken(base string) (time.Time, bool) {
	if m := compactRe.FindStringSubmatch(base); m != nil {
		if t, err := time.Parse("20060102150405", m[1]+m[2]); err == nil {
			return t, true
		}
	}
	if m := scanStartRe.FindStringSubmatch(base); m != nil {
		if t, ok := fromDayOfYear(m[1], m[2], m[3], m[4], m[5]); ok {
			return t, true
		}
	}
	if m := cdnRe.FindStringSubmatch(base); m != nil {
		if t, ok := fromDayOfYear(m[1], m[2], m[3], m[4], "00"); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromDayOfYear(year, doy, hour, minute, second string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	d, err2 := strconv.Atoi(doy)
	h, err3 := strconv.Atoi(hour)
	m, err4 := strconv.Atoi(minute)
	s, err5 := strconv.Atoi(second)
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return time.Time{}, false
	}
	if d < 1 || d > 366 || h > 23 || m > 59 || s > 60 {
		return time.Time{}, false
	}
	t := time.Date(y, time.January, 1, h, m, s, 0, time.UTC).AddDate(0, 0, d-1)
	if t.Year() != y {
		return time.Time{}, false
	}
	return t, true
}

// DayOfYearStamp formats ts as YYYYDDDHHMM, the form both remote stores use.
func DayOfYearStamp(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%04d%03d%02d%02d", ts.Year(), ts.YearDay(), ts.Hour(), ts.Minute())
}

// DetectDateRangeInDirectory returns the earliest and latest timestamps among
// the names that ParseFilename recognizes. ok is false when none match.
func DetectDateRangeInDirectory(filenames []string) (first, last time.Time, ok bool) {
	return DetectSatelliteRange(filenames, "")
}

// DetectSatelliteRange is DetectDateRangeInDirectory restricted to names
// parsed as satellite. An empty satellite accepts every platform.
func DetectSatelliteRange(filenames []string, satellite Satellite) (first, last time.Time, ok bool) {
	for _, name := range filenames {
		sat, ts, err := ParseFilename(name)
		if err != nil || (satellite != "" && sat != satellite) {
			continue
		}
		if !ok || ts.Before(first) {
			first = ts
		}
		if !ok || ts.After(last) {
			last = ts
		}
		ok = true
	}
	return first, last, ok
}
