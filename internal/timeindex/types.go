package timeindex

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Satellite identifies one of the supported imaging platforms.
type Satellite string

const (
	GOES16 Satellite = "goes16" // GOES-East
	GOES18 Satellite = "goes18" // GOES-West
)

// Satellites lists every supported platform in a stable order.
var Satellites = []Satellite{GOES16, GOES18}

// ParseSatellite accepts "goes16", "goes-16", "GOES_16", "g16" and the 18 equivalents.
func ParseSatellite(s string) (Satellite, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch norm {
	case "goes16", "g16", "16", "east", "goeseast":
		return GOES16, nil
	case "goes18", "g18", "18", "west", "goeswest":
		return GOES18, nil
	}
	return "", fmt.Errorf("unknown satellite %q", s)
}

// Number returns the platform number ("16" or "18").
func (s Satellite) Number() string {
	return strings.TrimPrefix(string(s), "goes")
}

// Code returns the upper-case short code used in remote object names ("G16").
func (s Satellite) Code() string {
	return "G" + s.Number()
}

// Product identifies an imagery product (scan sector).
type Product string

const (
	FullDisk   Product = "FD"
	CONUS      Product = "CONUS"
	Mesoscale1 Product = "M1"
	Mesoscale2 Product = "M2"
)

// Products lists every supported product.
var Products = []Product{FullDisk, CONUS, Mesoscale1, Mesoscale2}

// ParseProduct normalizes a product name.
func ParseProduct(s string) (Product, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FD", "F", "FULLDISK", "FULL_DISK":
		return FullDisk, nil
	case "CONUS", "C":
		return CONUS, nil
	case "M1", "MESO1":
		return Mesoscale1, nil
	case "M2", "MESO2":
		return Mesoscale2, nil
	}
	return "", fmt.Errorf("unknown product %q", s)
}

// DefaultBand is the ABI channel fetched when none is configured (clean longwave IR).
const DefaultBand = "13"

// ParseBand normalizes an ABI channel ("2", "C2", "02", "c02") to the
// two-digit form remote object names use. Empty selects DefaultBand.
func ParseBand(s string) (string, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if norm == "" {
		return DefaultBand, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(norm, "C"))
	if err != nil || n < 1 || n > 16 {
		return "", fmt.Errorf("invalid ABI band %q: want 1-16", s)
	}
	return fmt.Sprintf("%02d", n), nil
}

// DefaultCadence is the native minimum observation interval for each product.
var DefaultCadence = map[Product]time.Duration{
	FullDisk:   10 * time.Minute,
	CONUS:      5 * time.Minute,
	Mesoscale1: time.Minute,
	Mesoscale2: time.Minute,
}

// Source names the remote repository that serves an observation.
type Source string

const (
	SourceUnassigned Source = ""
	SourceFast       Source = "fast"
	SourceArchive    Source = "archive"
)

// Other returns the opposite store class, used for fallback.
func (s Source) Other() Source {
	switch s {
	case SourceFast:
		return SourceArchive
	case SourceArchive:
		return SourceFast
	}
	return SourceUnassigned
}

func (s Source) String() string {
	if s == SourceUnassigned {
		return "unassigned"
	}
	return string(s)
}

// DefaultRecentWindow is the age up to which an observation is served by the fast store.
const DefaultRecentWindow = 7 * 24 * time.Hour
