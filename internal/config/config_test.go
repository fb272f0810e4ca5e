package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"archive dir", func(c *Config) string { return c.ArchiveDir }, "/var/lib/goesfill/archive"},
		{"db path", func(c *Config) string { return c.Cache.DBPath }, ""},
		{"fast base url", func(c *Config) string { return c.Fast.BaseURL }, "https://cdn.star.nesdis.noaa.gov"},
		{"fast band", func(c *Config) string { return c.Fast.Band }, "13"},
		{"archive region", func(c *Config) string { return c.Archive.Region }, "us-east-1"},
		{"goes16 bucket", func(c *Config) string { return c.Archive.Buckets["goes16"] }, "noaa-goes16"},
		{"goes18 bucket", func(c *Config) string { return c.Archive.Buckets["goes18"] }, "noaa-goes18"},
		{"listen address", func(c *Config) string { return c.Server.Listen }, "127.0.0.1:8080"},
		{"default cron", func(c *Config) string { return c.Schedule.Cron }, "*/30 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Fetch.MaxConcurrency != 5 {
		t.Errorf("Fetch.MaxConcurrency = %d, want 5", cfg.Fetch.MaxConcurrency)
	}
	if !cfg.Fetch.Fallback {
		t.Errorf("Fetch.Fallback = false, want true")
	}
	if cfg.Schedule.Enabled {
		t.Errorf("Schedule.Enabled = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "goesfill.yaml")

	configContent := `
archive_dir: "/data/goes"
cache:
  db_path: "/data/goes/cache.db"
fetch:
  max_concurrency: 12
  fallback: false
  recent_window_days: 3
cadence_minutes:
  FD: 15
fast:
  base_url: "https://mirror.example.com"
  headers:
    Authorization: "Bearer abc"
archive:
  endpoint: "http://localhost:9000"
  force_path_style: true
  access_key_id: "key"
  secret_access_key: "secret"
schedule:
  enabled: true
  cron: "@every 10m"
  lookback_hours: 2
  satellite: "goes-18"
  product: "CONUS"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ArchiveDir != "/data/goes" {
		t.Errorf("ArchiveDir = %q, want %q", cfg.ArchiveDir, "/data/goes")
	}
	if cfg.DBPath() != "/data/goes/cache.db" {
		t.Errorf("DBPath() = %q, want %q", cfg.DBPath(), "/data/goes/cache.db")
	}
	if cfg.Fetch.MaxConcurrency != 12 || cfg.Fetch.Fallback {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.RecentWindow() != 72*time.Hour {
		t.Errorf("RecentWindow() = %v, want 72h", cfg.RecentWindow())
	}
	if got := cfg.Cadence()[timeindex.FullDisk]; got != 15*time.Minute {
		t.Errorf("FD cadence = %v, want 15m", got)
	}
	if cfg.Fast.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("Fast.Headers = %v", cfg.Fast.Headers)
	}
	// Unset keys keep their defaults.
	if cfg.Fast.Band != "13" || cfg.Archive.Region != "us-east-1" {
		t.Errorf("defaults lost: band=%q region=%q", cfg.Fast.Band, cfg.Archive.Region)
	}
	if !cfg.Archive.ForcePathStyle || cfg.Archive.Endpoint != "http://localhost:9000" {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
	if !cfg.Schedule.Enabled || cfg.Schedule.Cron != "@every 10m" || cfg.Schedule.LookbackHours != 2 {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid.yaml")

	invalidContent := `
server:
  listen: "0.0.0.0:8080"
  invalid: [unclosed bracket
`

	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Load() succeeded, want error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "goesfill.yaml")

	content := `
fetch:
  recent_window_days: 0
cadence_minutes:
  XX: 5
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Load() succeeded, want validation error")
	}
	for _, want := range []string{"recent_window_days", "unknown product"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"empty archive dir", func(c *Config) { c.ArchiveDir = " " }, "archive_dir"},
		{"negative concurrency", func(c *Config) { c.Fetch.MaxConcurrency = -1 }, "max_concurrency"},
		{"zero cadence", func(c *Config) { c.CadenceMinutes["FD"] = 0 }, "cadence_minutes.FD"},
		{"missing base url", func(c *Config) { c.Fast.BaseURL = "" }, "fast.base_url"},
		{"unknown bucket satellite", func(c *Config) { c.Archive.Buckets["goes99"] = "x" }, "archive.buckets"},
		{"band out of range", func(c *Config) { c.Archive.Band = "17" }, "archive.band"},
		{"band not numeric", func(c *Config) { c.Fast.Band = "IR" }, "fast.band"},
		{"single digit band", func(c *Config) { c.Archive.Band = "C2" }, ""},
		{"half credentials", func(c *Config) { c.Archive.AccessKeyID = "key" }, "set together"},
		{"schedule without cron", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.Cron = ""
		}, "schedule.cron"},
		{"schedule bad satellite", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.Satellite = "goes99"
		}, "schedule.satellite"},
		{"disabled schedule is not checked", func(c *Config) {
			c.Schedule.Satellite = "goes99"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDBPathDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArchiveDir = "/srv/goes"
	want := filepath.Join("/srv/goes", ".goesfill", "cache.db")
	if got := cfg.DBPath(); got != want {
		t.Errorf("DBPath() = %q, want %q", got, want)
	}
}

func TestArchiveBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Buckets = map[string]string{"goes-16": "mirror-16", "bogus": "x"}

	got := cfg.ArchiveBuckets()
	if len(got) != 1 || got[timeindex.GOES16] != "mirror-16" {
		t.Errorf("ArchiveBuckets() = %v", got)
	}
}

// TestFindConfigFileNotFound tests that FindConfigFile returns error when no config exists
func TestFindConfigFileNotFound(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
	t.Setenv("HOME", tempDir)

	if _, err := os.Stat("/etc/goesfill/goesfill.yaml"); err == nil {
		t.Skip("system config present")
	}

	_, err = FindConfigFile()
	if err == nil {
		t.Error("FindConfigFile() succeeded, want error when no config exists")
	}
}

// TestFindConfigFileFound tests that FindConfigFile returns the found config
func TestFindConfigFileFound(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})

	configFile := filepath.Join(tempDir, "goesfill.yaml")
	if err := os.WriteFile(configFile, []byte("archive_dir: /data\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != "goesfill.yaml" {
		t.Errorf("FindConfigFile() = %q, want goesfill.yaml", found)
	}
}
