// Package config loads rosterd's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roach88/rosterd/internal/logger"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath = "rosterd.toml"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultStorePath  = "rosterd.db"
	DefaultSyncTarget = "telepathy"
	DefaultDebounce   = 250 * time.Millisecond
	DefaultMaxWait    = 2 * time.Second
	DefaultBatchSize  = 5
)

// DefaultLegacyOnlineProtocols are protocols whose contacts are assumed
// to accept text chats whenever they are online.
var DefaultLegacyOnlineProtocols = []string{"skype"}

// Config is the root configuration.
type Config struct {
	Log   LogConfig   `toml:"log"`
	Store StoreConfig `toml:"store"`
	Sync  SyncConfig  `toml:"sync"`
	Feed  FeedConfig  `toml:"feed"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `toml:"path"`
	// AutoAggregate creates an aggregate record for every new contact.
	AutoAggregate bool `toml:"auto_aggregate"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	SyncTarget            string        `toml:"sync_target"`
	Debounce              time.Duration `toml:"debounce"`
	MaxWait               time.Duration `toml:"max_wait"`
	BatchSize             int           `toml:"batch_size"`
	LegacyOnlineProtocols []string      `toml:"legacy_online_protocols"`
}

// FeedConfig points at the provider snapshot file.
type FeedConfig struct {
	Snapshot string `toml:"snapshot"`
	Watch    bool   `toml:"watch"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		Sync: SyncConfig{
			SyncTarget:            DefaultSyncTarget,
			Debounce:              DefaultDebounce,
			MaxWait:               DefaultMaxWait,
			BatchSize:             DefaultBatchSize,
			LegacyOnlineProtocols: slices.Clone(DefaultLegacyOnlineProtocols),
		},
		Feed: FeedConfig{
			Watch: true,
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file
// yields the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required"))
	}
	if c.Sync.SyncTarget == "" {
		errs = append(errs, errors.New("sync.sync_target: required"))
	}
	if c.Sync.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("sync.debounce: must be positive, got %s", c.Sync.Debounce))
	}
	if c.Sync.MaxWait < c.Sync.Debounce {
		errs = append(errs, fmt.Errorf("sync.max_wait: %s is shorter than debounce %s", c.Sync.MaxWait, c.Sync.Debounce))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync.batch_size: must be at least 1, got %d", c.Sync.BatchSize))
	}
	return errors.Join(errs...)
}
