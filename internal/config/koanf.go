// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/dovetail/internal/models"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/dovetail/config.yaml",
	"/etc/dovetail/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the
// config file path.
const ConfigPathEnvVar = "DOVETAIL_CONFIG_PATH"

// EnvPrefix is the prefix stripped from environment variables before
// they are mapped to config paths.
const EnvPrefix = "DOVETAIL_"

// defaultConfig returns a Config struct with all default values. These
// are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Plex: PlexConfig{
			URL:         "",
			Token:       "",
			LibraryName: "Movies",
			BatchSize:   50,
			Concurrency: 20,
			Timeout:     30 * time.Second,
		},
		Collections: CollectionsConfig{
			Enabled:         true,
			Mode:            "scan",
			DVCollection:    "Dolby Vision",
			FELCollection:   "DV FEL",
			AtmosCollection: "TrueHD Atmos",
		},
		Radarr: RadarrConfig{
			Enabled: false,
			URL:     "",
			APIKey:  "",
			Timeout: 15 * time.Second,
		},
		QBittorrent: QBittorrentConfig{
			Enabled:        false,
			URL:            "",
			Username:       "",
			Password:       "",
			LANMode:        false,
			CategoryPrefix: "movies",
			Timeout:        15 * time.Second,
		},
		Telegram: TelegramConfig{
			Enabled:           false,
			BotToken:          "",
			ChatID:            0,
			PollTimeout:       30 * time.Second,
			MessagesPerSecond: 1.0,
		},
		Tracker: TrackerConfig{
			Enabled:            false,
			URL:                "",
			PollInterval:       5 * time.Minute,
			Timeout:            20 * time.Second,
			SeenDBPath:         "/data/tracker-seen",
			SeenTTL:            30 * 24 * time.Hour,
			BreakerMaxFailures: 5,
			BreakerCooldown:    2 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled:      true,
			Interval:     60 * time.Second,
			ScanInterval: 0, // manual trigger only
		},
		Policy: models.DefaultUpgradePolicy(),
		Database: DatabaseConfig{
			Path:      "/data/dovetail.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       120,
		},
		Reports: ReportsConfig{
			Enabled:       true,
			Dir:           "/data/reports",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using layered sources:
//
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if exists)
//  3. Environment variables: DOVETAIL_-prefixed, highest priority
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// DOVETAIL_PLEX_BATCH_SIZE -> plex.batch_size
	envProvider := env.Provider(EnvPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// configSections lists the top-level section names used to split env
// variable names into koanf paths. Longer names come first so that
// QBITTORRENT does not match a shorter prefix.
var configSections = []string{
	"qbittorrent",
	"collections",
	"telegram",
	"database",
	"tracker",
	"monitor",
	"reports",
	"logging",
	"server",
	"radarr",
	"policy",
	"plex",
}

// envTransformFunc maps a DOVETAIL_-stripped environment variable name
// to a koanf config path.
//
// Examples:
//   - PLEX_BATCH_SIZE -> plex.batch_size
//   - QBITTORRENT_LAN_MODE -> qbittorrent.lan_mode
//   - POLICY_NOTIFY_FEL -> policy.notify_fel
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	for _, section := range configSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}

	// Unknown prefix: leave as-is so it is simply ignored on unmarshal.
	return key
}
