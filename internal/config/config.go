// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package config loads and validates Dovetail configuration from three
// layered sources: built-in defaults, an optional YAML file, and
// DOVETAIL_-prefixed environment variables, in ascending precedence.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/dovetail/internal/models"
)

// Config is the root configuration for all Dovetail components.
type Config struct {
	Plex        PlexConfig           `koanf:"plex"`
	Collections CollectionsConfig    `koanf:"collections"`
	Radarr      RadarrConfig         `koanf:"radarr"`
	QBittorrent QBittorrentConfig    `koanf:"qbittorrent"`
	Telegram    TelegramConfig       `koanf:"telegram"`
	Tracker     TrackerConfig        `koanf:"tracker"`
	Monitor     MonitorConfig        `koanf:"monitor"`
	Policy      models.UpgradePolicy `koanf:"policy"`
	Database    DatabaseConfig       `koanf:"database"`
	Server      ServerConfig         `koanf:"server"`
	Reports     ReportsConfig        `koanf:"reports"`
	Logging     LoggingConfig        `koanf:"logging"`
}

// PlexConfig holds the Plex Media Server connection and scan settings.
type PlexConfig struct {
	URL         string        `koanf:"url"`
	Token       string        `koanf:"token"`
	LibraryName string        `koanf:"library_name"`
	BatchSize   int           `koanf:"batch_size"`
	Concurrency int           `koanf:"concurrency"`
	Timeout     time.Duration `koanf:"timeout"`
}

// CollectionsConfig controls the Plex collection reconciler.
//
// Mode selects the reconciliation strategy: "scan" rebuilds collection
// membership from the latest scan results, "verify" additionally walks
// existing collections and removes items that no longer qualify.
type CollectionsConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Mode            string `koanf:"mode"`
	DVCollection    string `koanf:"dv_collection"`
	FELCollection   string `koanf:"fel_collection"`
	AtmosCollection string `koanf:"atmos_collection"`
}

// RadarrConfig holds the optional Radarr connection settings. Radarr is
// consulted for root-folder placement when dispatching approved downloads.
type RadarrConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// QBittorrentConfig holds the qBittorrent Web API connection settings.
//
// LANMode skips the login step for deployments where the Web API has
// "Bypass authentication for clients on localhost/whitelisted IPs" set.
type QBittorrentConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	LANMode        bool          `koanf:"lan_mode"`
	CategoryPrefix string        `koanf:"category_prefix"`
	Timeout        time.Duration `koanf:"timeout"`
}

// TelegramConfig holds the Telegram bot settings for approval dialogues
// and scan digests.
type TelegramConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BotToken    string        `koanf:"bot_token"`
	ChatID      int64         `koanf:"chat_id"`
	PollTimeout time.Duration `koanf:"poll_timeout"`
	// MessagesPerSecond caps outbound sends; Telegram enforces roughly
	// one message per second per chat.
	MessagesPerSecond float64 `koanf:"messages_per_second"`
	// ScanDigest opts in to post-scan summary messages in the chat.
	ScanDigest bool `koanf:"scan_digest"`
}

// TrackerConfig holds the external tracker feed poll settings.
type TrackerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	URL          string        `koanf:"url"`
	// Cookie is the raw Cookie header value for trackers that gate the
	// feed behind a session.
	Cookie       string        `koanf:"cookie"`
	PollInterval time.Duration `koanf:"poll_interval"`
	Timeout      time.Duration `koanf:"timeout"`
	// SeenDBPath is the Badger directory used to deduplicate release
	// identifiers across restarts.
	SeenDBPath string `koanf:"seen_db_path"`
	// SeenTTL bounds how long a release identifier stays deduplicated.
	SeenTTL time.Duration `koanf:"seen_ttl"`
	// BreakerMaxFailures consecutive poll failures open the circuit;
	// BreakerCooldown is how long it stays open before a probe.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerCooldown    time.Duration `koanf:"breaker_cooldown"`
}

// MonitorConfig controls the background monitor loop that coalesces
// tracker polls and pending-download sweeps.
type MonitorConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	// ScanInterval is how often a full library scan is scheduled; zero
	// disables scheduled scans (manual trigger only).
	ScanInterval time.Duration `koanf:"scan_interval"`
}

// DatabaseConfig holds the DuckDB store settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads limits DuckDB worker threads; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ServerConfig holds the control-plane HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

// ReportsConfig controls scan report generation and retention.
type ReportsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
	// RetentionDays prunes reports older than this on each sweep;
	// 0 keeps reports indefinitely.
	RetentionDays int `koanf:"retention_days"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port listen address for the control-plane server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
