package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID tags imported events (model.Event.Source); it must be unique.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls the headless-browser PNG snapshot of the month page.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// URL defaults to the local /calendar page.
	URL    string `yaml:"url" json:"url"`
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Database is the sqlite file holding events.
	Database string `yaml:"database" json:"database"`

	// Timezone is the IANA zone used to interpret wall-clock input such as
	// "2024-01-15T09:00" from the CLI and the month page.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron schedule for subscription sync, export and
	// capture (e.g. "*/15 * * * *"). Empty disables the scheduler.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ConflictWindowDays is how far past an event's start conflicts are
	// checked on create and update.
	ConflictWindowDays int `yaml:"conflict_window_days" json:"conflict_window_days"`

	// RejectConflicts makes create/update fail with a conflict error instead
	// of only logging it.
	RejectConflicts bool `yaml:"reject_conflicts" json:"reject_conflicts"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// ExportPath, if set, receives an .ics export of all events on every
	// refresh.
	ExportPath string `yaml:"export_path,omitempty" json:"export_path,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// CacheDir stores fetched ICS bodies and their ETag/Last-Modified.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// CORSOrigins lists origins allowed to call the JSON API from a browser.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

const (
	defaultListen             = "127.0.0.1:8080"
	defaultDatabase           = "pcal.db"
	defaultTimezone           = "UTC"
	defaultWeekStart          = "sunday"
	defaultRefreshCron        = "*/15 * * * *"
	defaultConflictWindowDays = 365
	defaultLogLevel           = "info"
	defaultCacheDir           = "cache"
	defaultCaptureOutput      = "preview.png"
	defaultCaptureWidth       = 800
	defaultCaptureHeight      = 480
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:             defaultListen,
		Database:           defaultDatabase,
		Timezone:           defaultTimezone,
		WeekStart:          defaultWeekStart,
		RefreshCron:        defaultRefreshCron,
		ConflictWindowDays: defaultConflictWindowDays,
		LogLevel:           defaultLogLevel,
		CacheDir:           defaultCacheDir,
		Capture: CaptureConfig{
			Output: defaultCaptureOutput,
			Width:  defaultCaptureWidth,
			Height: defaultCaptureHeight,
		},
		ICS:         []ICSConfig{},
		CORSOrigins: []string{},
	}
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart)); c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.ConflictWindowDays <= 0 {
		c.ConflictWindowDays = defaultConflictWindowDays
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Capture.Output == "" {
		c.Capture.Output = defaultCaptureOutput
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = defaultCaptureWidth
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = defaultCaptureHeight
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		if strings.TrimSpace(src.ID) == "" {
			return fmt.Errorf("config: ics[%d]: id is required", i)
		}
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("config: ics[%d] (%s): url is required", i, src.ID)
		}
		if seen[src.ID] {
			return fmt.Errorf("config: ics[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("config: basic_auth.username is required when basic_auth is set")
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekStartDay returns WeekStart as a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// ConflictWindow returns ConflictWindowDays as a duration.
func (c *Config) ConflictWindow() time.Duration {
	return time.Duration(c.ConflictWindowDays) * 24 * time.Hour
}

// Environment variables that override file settings.
const (
	EnvListen   = "PCAL_LISTEN"
	EnvDatabase = "PCAL_DATABASE"
	EnvLogLevel = "PCAL_LOG_LEVEL"
)

// ApplyEnv overrides file settings with non-empty PCAL_* environment
// variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
//
// Environment overrides are applied after the file in both cases and are
// never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".pcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
