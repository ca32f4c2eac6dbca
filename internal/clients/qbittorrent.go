// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// QBittorrentClient talks to the qBittorrent Web API (v2). Sessions are
// cookie-based: Login captures the SID cookie and requests retry once
// with a fresh login when the session has lapsed.
//
// In LAN mode (Web API configured to bypass authentication for
// whitelisted addresses) no login is performed at all.
type QBittorrentClient struct {
	baseURL        string
	username       string
	password       string
	lanMode        bool
	categoryPrefix string
	httpClient     *http.Client

	mu  sync.Mutex
	sid string
}

// NewQBittorrentClient creates a qBittorrent Web API client from
// configuration.
func NewQBittorrentClient(cfg config.QBittorrentConfig) *QBittorrentClient {
	prefix := cfg.CategoryPrefix
	if prefix == "" {
		prefix = "movies"
	}
	return &QBittorrentClient{
		baseURL:        strings.TrimSuffix(cfg.URL, "/"),
		username:       cfg.Username,
		password:       cfg.Password,
		lanMode:        cfg.LANMode,
		categoryPrefix: prefix,
		httpClient:     NewHTTPClient(cfg.Timeout),
	}
}

// Category derives the qBittorrent category for a quality bucket,
// e.g. "movies-fel".
func (c *QBittorrentClient) Category(qt models.QualityType) string {
	return fmt.Sprintf("%s-%s", c.categoryPrefix, qt)
}

// TestConnection verifies the endpoint and, outside LAN mode, the
// credentials.
func (c *QBittorrentClient) TestConnection(ctx context.Context) error {
	start := time.Now()
	err := c.testConnection(ctx)
	metrics.RecordClientRequest("qbittorrent", time.Since(start), ErrorKind(err))
	return err
}

func (c *QBittorrentClient) testConnection(ctx context.Context) error {
	if !c.lanMode {
		if err := c.login(ctx); err != nil {
			return err
		}
	}

	resp, err := c.doAuthed(ctx, http.MethodGet, "/api/v2/app/version", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Service: "qbittorrent", StatusCode: resp.StatusCode}
	}
	return nil
}

// AddTorrent submits a torrent URL or magnet URI for download into
// savePath under the category for the quality bucket. The Web API
// answers 200 with a non-"Ok." body when the torrent is rejected, so
// the body is checked as well.
func (c *QBittorrentClient) AddTorrent(ctx context.Context, torrentURL, savePath string, qt models.QualityType) error {
	start := time.Now()
	err := c.addTorrent(ctx, torrentURL, savePath, qt)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.DispatchesTotal.WithLabelValues(outcome).Inc()
	metrics.RecordClientRequest("qbittorrent", time.Since(start), ErrorKind(err))
	return err
}

func (c *QBittorrentClient) addTorrent(ctx context.Context, torrentURL, savePath string, qt models.QualityType) error {
	if !c.lanMode {
		if err := c.ensureSession(ctx); err != nil {
			return err
		}
	}

	form := url.Values{
		"urls":     {torrentURL},
		"savepath": {savePath},
		"category": {c.Category(qt)},
	}

	resp, err := c.doAuthed(ctx, http.MethodPost, "/api/v2/torrents/add", form)
	if err != nil {
		return err
	}

	// A lapsed session answers 403: log in again and retry once.
	if resp.StatusCode == http.StatusForbidden && !c.lanMode {
		closeQuietly(resp.Body)
		logging.Debug().Msg("qBittorrent session lapsed, re-authenticating")
		if err := c.login(ctx); err != nil {
			return err
		}
		resp, err = c.doAuthed(ctx, http.MethodPost, "/api/v2/torrents/add", form)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return &MalformedError{Service: "qbittorrent", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Service: "qbittorrent", StatusCode: resp.StatusCode, Body: string(body)}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "Ok." && trimmed != "" {
		return &ProtocolError{Service: "qbittorrent", StatusCode: resp.StatusCode, Body: trimmed}
	}
	return nil
}

// TorrentInfo is the subset of the torrents/info row used for hash
// capture and completion tracking. AddedOn is a unix timestamp; the
// torrents/add endpoint does not echo the hash back, so a freshly
// dispatched torrent is identified as the newest entry in its category.
type TorrentInfo struct {
	Name     string  `json:"name"`
	Hash     string  `json:"hash"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	SavePath string  `json:"save_path"`
	AddedOn  int64   `json:"added_on"`
}

// Finished reports whether the torrent has fully downloaded.
func (t TorrentInfo) Finished() bool {
	return t.Progress >= 1.0
}

// Torrents lists the torrents in the category for a quality bucket.
func (c *QBittorrentClient) Torrents(ctx context.Context, qt models.QualityType) ([]TorrentInfo, error) {
	start := time.Now()
	infos, err := c.torrents(ctx, qt)
	metrics.RecordClientRequest("qbittorrent", time.Since(start), ErrorKind(err))
	return infos, err
}

func (c *QBittorrentClient) torrents(ctx context.Context, qt models.QualityType) ([]TorrentInfo, error) {
	if !c.lanMode {
		if err := c.ensureSession(ctx); err != nil {
			return nil, err
		}
	}

	path := "/api/v2/torrents/info?category=" + url.QueryEscape(c.Category(qt))
	resp, err := c.doAuthed(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden && !c.lanMode {
		closeQuietly(resp.Body)
		logging.Debug().Msg("qBittorrent session lapsed, re-authenticating")
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		resp, err = c.doAuthed(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProtocolError{Service: "qbittorrent", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var infos []TorrentInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&infos); err != nil {
		return nil, &MalformedError{Service: "qbittorrent", Err: err}
	}
	return infos, nil
}

// login authenticates and stores the session cookie.
func (c *QBittorrentClient) login(ctx context.Context) error {
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Service: "qbittorrent", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return &ProtocolError{Service: "qbittorrent", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "SID" {
			c.mu.Lock()
			c.sid = cookie.Value
			c.mu.Unlock()
			return nil
		}
	}
	return &ProtocolError{Service: "qbittorrent", StatusCode: resp.StatusCode, Body: "login succeeded but no SID cookie"}
}

// ensureSession logs in only when no session cookie is held yet.
func (c *QBittorrentClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	haveSID := c.sid != ""
	c.mu.Unlock()
	if haveSID {
		return nil
	}
	return c.login(ctx)
}

// doAuthed executes a request with the session cookie attached.
func (c *QBittorrentClient) doAuthed(ctx context.Context, method, path string, form url.Values) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	if c.sid != "" {
		req.AddCookie(&http.Cookie{Name: "SID", Value: c.sid})
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Service: "qbittorrent", Err: err}
	}
	return resp, nil
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
