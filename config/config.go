/*
Package config loads the YAML configuration shared by the server and the CLI.

PURPOSE:
  One file holds everything a deployment tunes: where the database lives,
  how far the rolling window reaches, how often it is refreshed, and how the
  expander treats exclusions. Command-line flags override individual values.

FIRST RUN:
  Load on a missing path writes the defaults (0600) and returns them.

EXAMPLE:
  listen: ":8080"
  db_path: habits.db
  timezone: Europe/Paris
  horizon_days: 42
  refresh: "0 * * * *"
  log_level: info

SEE ALSO:
  - cmd/server/main.go: flag overrides
  - recurrence/expand.go: ExpandConfig
*/
package config

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warp/habit-engine/recurrence"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListen        = ":8080"
	DefaultDBPath        = "habits.db"
	DefaultTimezone      = "UTC"
	DefaultHorizonDays   = 42
	DefaultAdherenceDays = 30
	DefaultRefreshCron   = "0 * * * *"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	// Timezone is the zone used when a request or an imported event does
	// not name one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is the half-width of the rolling materialization window.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// AdherenceDays is the default stats window.
	AdherenceDays int `yaml:"adherence_days" json:"adherence_days"`

	// RefreshCron is the schedule of the horizon refresh. Empty disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ExclusionToleranceSeconds is how close an occurrence must be to an
	// EXDATE to be removed.
	ExclusionToleranceSeconds int `yaml:"exclusion_tolerance_seconds" json:"exclusion_tolerance_seconds"`

	// MaxOccurrences caps one expansion window.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format" json:"log_format"`

	// CORSOrigins lists the origins allowed by the HTTP API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                    DefaultListen,
		DBPath:                    DefaultDBPath,
		Timezone:                  DefaultTimezone,
		HorizonDays:               DefaultHorizonDays,
		AdherenceDays:             DefaultAdherenceDays,
		RefreshCron:               DefaultRefreshCron,
		ExclusionToleranceSeconds: 1,
		MaxOccurrences:            5000,
		LogLevel:                  DefaultLogLevel,
		LogFormat:                 DefaultLogFormat,
		CORSOrigins:               []string{"*"},
	}
}

// Normalize fills in missing or out-of-range values with defaults so that
// partially-filled configs still behave correctly. RefreshCron is left
// alone: empty is a valid setting.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.AdherenceDays <= 0 {
		c.AdherenceDays = DefaultAdherenceDays
	}
	if c.ExclusionToleranceSeconds <= 0 {
		c.ExclusionToleranceSeconds = 1
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = 5000
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = DefaultLogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		c.LogFormat = DefaultLogFormat
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{"*"}
	}
}

// Horizon returns the rolling window half-width.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// ExpandConfig returns the expander settings.
func (c *Config) ExpandConfig() recurrence.ExpandConfig {
	return recurrence.ExpandConfig{
		ExclusionTolerance: time.Duration(c.ExclusionToleranceSeconds) * time.Second,
		MaxOccurrences:     c.MaxOccurrences,
	}
}

// NewLogger builds the process logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, the defaults are written with 0600 perms
//     and returned
//   - Otherwise the YAML is read and normalized
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
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

	tmp, err := os.CreateTemp(dir, ".habit-engine-config-*.tmp")
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
