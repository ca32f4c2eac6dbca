// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for errors that would prevent the
// process from operating. Optional integrations are only validated when
// enabled, so a minimal Plex-only deployment needs nothing else.
func (c *Config) Validate() error {
	if err := c.validatePlex(); err != nil {
		return err
	}
	if err := c.validateCollections(); err != nil {
		return err
	}
	if err := c.validateIntegrations(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Policy.NotifyExpireHours <= 0 {
		return fmt.Errorf("policy.notify_expire_hours must be positive, got %d", c.Policy.NotifyExpireHours)
	}
	if c.Reports.Enabled && c.Reports.Dir == "" {
		return fmt.Errorf("reports.dir is required when reports are enabled")
	}
	return nil
}

func (c *Config) validatePlex() error {
	if c.Plex.URL == "" {
		return fmt.Errorf("plex.url is required")
	}
	if err := validateHTTPURL("plex.url", c.Plex.URL); err != nil {
		return err
	}
	if c.Plex.Token == "" {
		return fmt.Errorf("plex.token is required")
	}
	if c.Plex.LibraryName == "" {
		return fmt.Errorf("plex.library_name is required")
	}
	if c.Plex.BatchSize <= 0 {
		return fmt.Errorf("plex.batch_size must be positive, got %d", c.Plex.BatchSize)
	}
	if c.Plex.Concurrency <= 0 {
		return fmt.Errorf("plex.concurrency must be positive, got %d", c.Plex.Concurrency)
	}
	return nil
}

func (c *Config) validateCollections() error {
	if !c.Collections.Enabled {
		return nil
	}
	switch c.Collections.Mode {
	case "scan", "verify":
	default:
		return fmt.Errorf("collections.mode must be \"scan\" or \"verify\", got %q", c.Collections.Mode)
	}
	return nil
}

func (c *Config) validateIntegrations() error {
	if c.Radarr.Enabled {
		if err := validateHTTPURL("radarr.url", c.Radarr.URL); err != nil {
			return err
		}
		if c.Radarr.APIKey == "" {
			return fmt.Errorf("radarr.api_key is required when radarr is enabled")
		}
	}
	if c.QBittorrent.Enabled {
		if err := validateHTTPURL("qbittorrent.url", c.QBittorrent.URL); err != nil {
			return err
		}
		if !c.QBittorrent.LANMode && c.QBittorrent.Username == "" {
			return fmt.Errorf("qbittorrent.username is required unless lan_mode is set")
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MessagesPerSecond <= 0 {
			return fmt.Errorf("telegram.messages_per_second must be positive")
		}
	}
	if c.Tracker.Enabled {
		if err := validateHTTPURL("tracker.url", c.Tracker.URL); err != nil {
			return err
		}
		if c.Tracker.PollInterval <= 0 {
			return fmt.Errorf("tracker.poll_interval must be positive")
		}
		if c.Tracker.SeenDBPath == "" {
			return fmt.Errorf("tracker.seen_db_path is required when tracker is enabled")
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %d", c.Server.RateLimit)
	}
	return nil
}

// validateHTTPURL checks that value is an absolute http(s) URL.
func validateHTTPURL(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}
