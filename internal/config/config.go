package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eventdir/internal/dates"
	"eventdir/internal/model"
)

// Environment variables that override the file.
const (
	EnvCleanup = "EVENTDIR_CLEANUP"
	EnvListen  = "EVENTDIR_LISTEN"
)

// StoreConfig selects the event storage backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path"`
}

// CleanupConfig controls the periodic cleanup job.
type CleanupConfig struct {
	// Enabled marks this instance as allowed to run cleanup. Only one
	// instance sharing a store should have it set.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Poll is the cron expression for checking whether a run is due.
	Poll string `yaml:"poll" json:"poll"`
	// DryRun reports what would be removed without removing it.
	DryRun bool `yaml:"dry_run" json:"dry_run"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for date ranges and labels.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Directory is the name shown in exported calendars.
	Directory string `yaml:"directory" json:"directory"`

	// TrackedStates lists the workflow states kept in an ordered index.
	TrackedStates []string `yaml:"tracked_states" json:"tracked_states"`

	// WindowDays is how far from this morning recurrences are indexed.
	WindowDays int `yaml:"window_days" json:"window_days"`

	// MaxOccurrences caps how many occurrences one event may produce.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	Store   StoreConfig   `yaml:"store" json:"store"`
	Cleanup CleanupConfig `yaml:"cleanup" json:"cleanup"`
	Log     LogConfig     `yaml:"log" json:"log"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "Europe/Zurich",
		Directory:      "Events",
		TrackedStates:  []string{string(model.StatePublished), string(model.StateSubmitted)},
		WindowDays:     dates.DefaultWindowDays,
		MaxOccurrences: 365,
		Store:          StoreConfig{Driver: "sqlite", Path: "./var/eventdir.db"},
		Cleanup:        CleanupConfig{Poll: "*/10 * * * *"},
		Log:            LogConfig{Level: "INFO", Format: "console"},
	}
}

// Normalize fills in missing/zero values so partially-filled configs
// still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Directory == "" {
		c.Directory = def.Directory
	}
	if len(c.TrackedStates) == 0 {
		c.TrackedStates = def.TrackedStates
	}
	if c.WindowDays <= 0 {
		c.WindowDays = def.WindowDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	switch strings.ToLower(c.Store.Driver) {
	case "sqlite", "memory":
		c.Store.Driver = strings.ToLower(c.Store.Driver)
	default:
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Cleanup.Poll == "" {
		c.Cleanup.Poll = def.Cleanup.Poll
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate reports settings that cannot be normalized away.
func (c *Config) Validate() error {
	var errs []error
	for _, s := range c.TrackedStates {
		if !model.State(s).Valid() {
			errs = append(errs, fmt.Errorf("tracked_states: unknown state %q", s))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	return errors.Join(errs...)
}

// States returns the tracked states as model values.
func (c *Config) States() []model.State {
	out := make([]model.State, 0, len(c.TrackedStates))
	for _, s := range c.TrackedStates {
		out = append(out, model.State(s))
	}
	return out
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvCleanup); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cleanup.Enabled = b
		}
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
}

// Load loads configuration from the given YAML path. A missing file is
// created with defaults (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// caller decides whether a read-only location is fatal
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

// Save writes cfg atomically via a temp file + rename, with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".eventdir-config-*.tmp")
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

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
