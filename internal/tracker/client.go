// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

/*
client.go - Tracker Feed Client

This file provides the HTTP client for the external release tracker. The
tracker is treated as an opaque producer: one JSON feed endpoint returning
a snapshot of recent releases, optionally behind cookie auth. The feed
shape is the only contract the pipeline commits to.

Trackers flap routinely, so every fetch goes through a circuit breaker:
consecutive failures open the circuit and polls fail fast until the
cooldown elapses.

Related files:
  - seen.go: persistent release-identifier dedupe (Badger)
  - tracker.go: poll orchestration (fetch → diff → mark seen)
*/

//nolint:staticcheck // File documentation, not package doc
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// ErrBreakerOpen indicates the tracker circuit is open and the poll was
// skipped without touching the network.
var ErrBreakerOpen = errors.New("tracker circuit open")

// feedItem is one row of the tracker's JSON feed.
type feedItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DownloadURL string    `json:"download_url"`
	PublishedAt time.Time `json:"published_at"`
}

// Client fetches release snapshots from the tracker feed.
type Client struct {
	feedURL    string
	cookie     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]models.Release]
}

// NewClient creates a tracker feed client with its circuit breaker.
func NewClient(cfg config.TrackerConfig) *Client {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	settings := gobreaker.Settings{
		Name:    "tracker",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Tracker circuit state changed")
		},
	}

	return &Client{
		feedURL:    cfg.URL,
		cookie:     cfg.Cookie,
		httpClient: clients.NewHTTPClient(cfg.Timeout),
		breaker:    gobreaker.NewCircuitBreaker[[]models.Release](settings),
	}
}

// BreakerState reports the circuit state for the status snapshot.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// GetReleases fetches the current feed snapshot through the breaker.
func (c *Client) GetReleases(ctx context.Context) ([]models.Release, error) {
	releases, err := c.breaker.Execute(func() ([]models.Release, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.TrackerPolls.WithLabelValues("open").Inc()
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		metrics.TrackerPolls.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.TrackerPolls.WithLabelValues("success").Inc()
	return releases, nil
}

func (c *Client) fetch(ctx context.Context) ([]models.Release, error) {
	start := time.Now()
	releases, err := c.doFetch(ctx)
	metrics.RecordClientRequest("tracker", time.Since(start), clients.ErrorKind(err))
	return releases, err
}

func (c *Client) doFetch(ctx context.Context) ([]models.Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &clients.TransportError{Service: "tracker", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &clients.ProtocolError{Service: "tracker", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var items []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &clients.MalformedError{Service: "tracker", Err: err}
	}

	releases := make([]models.Release, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.DownloadURL == "" {
			logging.Warn().
				Str("name", item.Name).
				Msg("Feed row missing id or download url, skipped")
			continue
		}
		releases = append(releases, models.Release{
			Identifier: item.ID,
			Title:      item.Name,
			URL:        item.DownloadURL,
			Timestamp:  item.PublishedAt,
		})
	}
	return releases, nil
}
