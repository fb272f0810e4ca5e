package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// Config is the top-level configuration
type Config struct {
	ArchiveDir     string         `yaml:"archive_dir"`
	Cache          CacheConfig    `yaml:"cache"`
	Fetch          FetchConfig    `yaml:"fetch"`
	CadenceMinutes map[string]int `yaml:"cadence_minutes"`
	Fast           FastConfig     `yaml:"fast"`
	Archive        ArchiveConfig  `yaml:"archive"`
	Server         ServerConfig   `yaml:"server"`
	Schedule       ScheduleConfig `yaml:"schedule"`
}

// CacheConfig holds result cache settings
type CacheConfig struct {
	DBPath string `yaml:"db_path"`
}

// FetchConfig holds download orchestration settings
type FetchConfig struct {
	MaxConcurrency   int  `yaml:"max_concurrency"`
	Fallback         bool `yaml:"fallback"`
	RecentWindowDays int  `yaml:"recent_window_days"`
}

// FastConfig configures the CDN store. Headers are sent verbatim and may
// carry credentials.
type FastConfig struct {
	BaseURL       string            `yaml:"base_url"`
	Band          string            `yaml:"band"`
	RetryAttempts int               `yaml:"retry_attempts"`
	Headers       map[string]string `yaml:"headers"`
}

// ArchiveConfig configures the S3 archive store
type ArchiveConfig struct {
	Region          string            `yaml:"region"`
	Endpoint        string            `yaml:"endpoint"`
	Buckets         map[string]string `yaml:"buckets"`
	Band            string            `yaml:"band"`
	RetryAttempts   int               `yaml:"retry_attempts"`
	AccessKeyID     string            `yaml:"access_key_id"`
	SecretAccessKey string            `yaml:"secret_access_key"`
	ForcePathStyle  bool              `yaml:"force_path_style"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ScheduleConfig holds watch mode settings
type ScheduleConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Cron            string `yaml:"cron"`
	LookbackHours   int    `yaml:"lookback_hours"`
	Satellite       string `yaml:"satellite"`
	Product         string `yaml:"product"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ArchiveDir: "/var/lib/goesfill/archive",
		Cache: CacheConfig{
			DBPath: "",
		},
		Fetch: FetchConfig{
			MaxConcurrency:   5,
			Fallback:         true,
			RecentWindowDays: 7,
		},
		CadenceMinutes: map[string]int{
			string(timeindex.FullDisk):   10,
			string(timeindex.CONUS):      5,
			string(timeindex.Mesoscale1): 1,
			string(timeindex.Mesoscale2): 1,
		},
		Fast: FastConfig{
			BaseURL:       "https://cdn.star.nesdis.noaa.gov",
			Band:          "13",
			RetryAttempts: 3,
			Headers:       map[string]string{},
		},
		Archive: ArchiveConfig{
			Region:        "us-east-1",
			Band:          "13",
			RetryAttempts: 4,
			Buckets: map[string]string{
				string(timeindex.GOES16): "noaa-goes16",
				string(timeindex.GOES18): "noaa-goes18",
			},
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
		Schedule: ScheduleConfig{
			Enabled:       false,
			Cron:          "*/30 * * * *",
			LookbackHours: 6,
			Satellite:     string(timeindex.GOES16),
			Product:       string(timeindex.FullDisk),
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"goesfill.yaml",
		"/etc/goesfill/goesfill.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "goesfill", "goesfill.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ArchiveDir) == "" {
		errs = append(errs, errors.New("archive_dir must be set"))
	}
	if c.Fetch.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_concurrency must not be negative, got %d", c.Fetch.MaxConcurrency))
	}
	if c.Fetch.RecentWindowDays <= 0 {
		errs = append(errs, fmt.Errorf("fetch.recent_window_days must be positive, got %d", c.Fetch.RecentWindowDays))
	}
	for product, minutes := range c.CadenceMinutes {
		if _, err := timeindex.ParseProduct(product); err != nil {
			errs = append(errs, fmt.Errorf("cadence_minutes: %w", err))
		}
		if minutes <= 0 {
			errs = append(errs, fmt.Errorf("cadence_minutes.%s must be positive, got %d", product, minutes))
		}
	}
	if c.Fast.BaseURL == "" {
		errs = append(errs, errors.New("fast.base_url must be set"))
	}
	if _, err := timeindex.ParseBand(c.Fast.Band); err != nil {
		errs = append(errs, fmt.Errorf("fast.band: %w", err))
	}
	if _, err := timeindex.ParseBand(c.Archive.Band); err != nil {
		errs = append(errs, fmt.Errorf("archive.band: %w", err))
	}
	for sat := range c.Archive.Buckets {
		if _, err := timeindex.ParseSatellite(sat); err != nil {
			errs = append(errs, fmt.Errorf("archive.buckets: %w", err))
		}
	}
	if (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		errs = append(errs, errors.New("archive.access_key_id and archive.secret_access_key must be set together"))
	}
	if c.Schedule.Enabled {
		if c.Schedule.Cron == "" {
			errs = append(errs, errors.New("schedule.cron must be set when the schedule is enabled"))
		}
		if c.Schedule.LookbackHours <= 0 {
			errs = append(errs, fmt.Errorf("schedule.lookback_hours must be positive, got %d", c.Schedule.LookbackHours))
		}
		if _, err := timeindex.ParseSatellite(c.Schedule.Satellite); err != nil {
			errs = append(errs, fmt.Errorf("schedule.satellite: %w", err))
		}
		if _, err := timeindex.ParseProduct(c.Schedule.Product); err != nil {
			errs = append(errs, fmt.Errorf("schedule.product: %w", err))
		}
	}
	if c.Schedule.IntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("schedule.interval_minutes must not be negative, got %d", c.Schedule.IntervalMinutes))
	}

	return errors.Join(errs...)
}

// DBPath returns the cache database path, defaulting to a file beside the archive.
func (c *Config) DBPath() string {
	if c.Cache.DBPath != "" {
		return c.Cache.DBPath
	}
	return filepath.Join(c.ArchiveDir, ".goesfill", "cache.db")
}

// Cadence converts the cadence table for timeindex.Options.
func (c *Config) Cadence() map[timeindex.Product]time.Duration {
	out := make(map[timeindex.Product]time.Duration, len(c.CadenceMinutes))
	for name, minutes := range c.CadenceMinutes {
		p, err := timeindex.ParseProduct(name)
		if err != nil || minutes <= 0 {
			continue
		}
		out[p] = time.Duration(minutes) * time.Minute
	}
	return out
}

// RecentWindow returns the fast-store age threshold.
func (c *Config) RecentWindow() time.Duration {
	return time.Duration(c.Fetch.RecentWindowDays) * 24 * time.Hour
}

// ArchiveBuckets converts the bucket table keyed by satellite.
func (c *Config) ArchiveBuckets() map[timeindex.Satellite]string {
	out := make(map[timeindex.Satellite]string, len(c.Archive.Buckets))
	for name, bucket := range c.Archive.Buckets {
		sat, err := timeindex.ParseSatellite(name)
		if err != nil {
			continue
		}
		out[sat] = bucket
	}
	return out
}
