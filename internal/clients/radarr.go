// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// ErrMovieNotInRadarr indicates Radarr does not track the movie, so no
// target folder can be resolved for it.
var ErrMovieNotInRadarr = errors.New("movie not tracked by radarr")

// RadarrClient talks to the Radarr v3 API. It is consulted for the
// on-disk folder of a movie before an approved download is dispatched.
type RadarrClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// RadarrMovie is the subset of the Radarr movie resource Dovetail uses.
type RadarrMovie struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Year       int    `json:"year"`
	Path       string `json:"path"`
	RootFolder string `json:"rootFolderPath"`
	HasFile    bool   `json:"hasFile"`
}

// radarrRootFolder is the Radarr root folder resource.
type radarrRootFolder struct {
	Path string `json:"path"`
}

// NewRadarrClient creates a Radarr API client from configuration.
func NewRadarrClient(cfg config.RadarrConfig) *RadarrClient {
	return &RadarrClient{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: NewHTTPClient(cfg.Timeout),
	}
}

// TestConnection verifies the Radarr endpoint and API key.
func (c *RadarrClient) TestConnection(ctx context.Context) error {
	var status struct {
		Version string `json:"version"`
	}
	return c.get(ctx, "/api/v3/system/status", &status)
}

// MovieFolder returns the on-disk folder for a movie by title and
// optional year. The movie's own path wins; a movie tracked but not yet
// on disk falls back to its root folder. Returns ErrMovieNotInRadarr
// when Radarr does not know the title.
func (c *RadarrClient) MovieFolder(ctx context.Context, title string, year *int) (string, error) {
	movie, err := c.findMovie(ctx, title, year)
	if err != nil {
		return "", err
	}

	if movie.Path != "" {
		return movie.Path, nil
	}
	if movie.RootFolder != "" {
		return movie.RootFolder, nil
	}

	// Neither path populated: fall back to the first configured root
	// folder so dispatch still has somewhere to land.
	var roots []radarrRootFolder
	if err := c.get(ctx, "/api/v3/rootfolder", &roots); err != nil {
		return "", err
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("radarr has no root folders configured")
	}
	return roots[0].Path, nil
}

// findMovie looks the movie up in Radarr's library by normalised title,
// preferring an exact year match.
func (c *RadarrClient) findMovie(ctx context.Context, title string, year *int) (*RadarrMovie, error) {
	var movies []RadarrMovie
	if err := c.get(ctx, "/api/v3/movie", &movies); err != nil {
		return nil, err
	}

	normalized := models.NormalizeTitle(title)
	var titleMatch *RadarrMovie
	for i := range movies {
		if models.NormalizeTitle(movies[i].Title) != normalized {
			continue
		}
		if year != nil && movies[i].Year == *year {
			return &movies[i], nil
		}
		if titleMatch == nil {
			titleMatch = &movies[i]
		}
	}
	if titleMatch != nil {
		return titleMatch, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMovieNotInRadarr, title)
}

func (c *RadarrClient) get(ctx context.Context, path string, result any) error {
	start := time.Now()
	err := c.doGet(ctx, path, result)
	metrics.RecordClientRequest("radarr", time.Since(start), ErrorKind(err))
	return err
}

func (c *RadarrClient) doGet(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Service: "radarr", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Service: "radarr", StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &MalformedError{Service: "radarr", Err: err}
	}
	return nil
}
