// Package config provides configuration management for tpsplay using
// Viper: configuration from file, environment variables, and defaults,
// following the same layered Load/SetDefaults/Validate shape the teacher
// repo uses for its own server configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultEntryCountOvershoot = 20
	defaultDefaultSpeed        = 1.0
	defaultCacheRefreshCron    = "0 */15 * * * *" // every 15 minutes, 6-field cron
)

// Config holds all configuration for the TPS playback engine.
type Config struct {
	TPS     TPSConfig     `mapstructure:"tps"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// TPSConfig holds the recordings-directory and playback defaults the
// engine needs — the TPS-domain counterpart of the teacher's
// Database/Storage sections.
type TPSConfig struct {
	// RecordingsPath holds TIndex00.tps and the TRec*.tps files.
	RecordingsPath string `mapstructure:"recordings_path"`
	// CacheDir holds the frame-index cache artifacts.
	CacheDir string `mapstructure:"cache_dir"`
	// EntryCountOvershoot tolerates master-index producers that
	// under-report entry_count (§9 open question).
	EntryCountOvershoot int `mapstructure:"entry_count_overshoot"`
	// Timezone is the IANA zone used by the query surface's
	// list_dates/list_recordings day-window bounds.
	Timezone string `mapstructure:"timezone"`
	// DefaultSpeed is the playback rate used when a seek request omits
	// one.
	DefaultSpeed float64 `mapstructure:"default_speed"`
	// PrebuildConcurrency bounds the bulk cache-build fan-out.
	PrebuildConcurrency int `mapstructure:"prebuild_concurrency"`
	// CacheRefreshCron schedules the periodic Storage.Prebuild run of
	// the `cache watch` command (6-field cron, as the teacher's
	// backup.schedule.cron); empty disables the scheduled refresh. A run
	// builds only segments not yet cached in memory; it does not
	// recompute fingerprints of segments already built.
	CacheRefreshCron string `mapstructure:"cache_refresh_cron"`
	// StreamTimeout bounds how long a CLI-driven stream session may run
	// in total before the watchdog cancels it. This is an external,
	// caller-side guard, not the engine's own timeout — §5 explicitly
	// gives the streaming loop no internal timeout, so this lives one
	// layer up, in the driver that owns the context. Zero disables the
	// watchdog. Plain time.Duration, matching the teacher's own
	// StreamTimeout field, decoded by viper's built-in
	// StringToTimeDurationHookFunc.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TPSPLAY_ and use underscores
// for nesting. Example: TPSPLAY_TPS_RECORDINGS_PATH=/mnt/dvr.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tpsplay")
		v.AddConfigPath("$HOME/.tpsplay")
	}

	v.SetEnvPrefix("TPSPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure
// defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tps.recordings_path", "./recordings")
	v.SetDefault("tps.cache_dir", "./cache")
	v.SetDefault("tps.entry_count_overshoot", defaultEntryCountOvershoot)
	v.SetDefault("tps.timezone", "UTC")
	v.SetDefault("tps.default_speed", defaultDefaultSpeed)
	v.SetDefault("tps.prebuild_concurrency", 4)
	v.SetDefault("tps.cache_refresh_cron", defaultCacheRefreshCron)
	v.SetDefault("tps.stream_timeout", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TPS.RecordingsPath == "" {
		return fmt.Errorf("tps.recordings_path is required")
	}
	if c.TPS.CacheDir == "" {
		return fmt.Errorf("tps.cache_dir is required")
	}
	if c.TPS.EntryCountOvershoot < 0 {
		return fmt.Errorf("tps.entry_count_overshoot must be >= 0")
	}
	if c.TPS.DefaultSpeed <= 0 {
		return fmt.Errorf("tps.default_speed must be > 0")
	}
	if _, err := time.LoadLocation(c.TPS.Timezone); err != nil {
		return fmt.Errorf("tps.timezone invalid: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
