// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

/*
plex.go - Plex Media Server API Client

This file provides the PlexClient struct for the XML endpoints Dovetail
consumes:

  - /identity: server machine identifier and connectivity test
  - /library/sections: locate the configured movie section
  - /library/sections/{id}/all: full item listing of a section
  - /library/metadata/{key}: per-item stream metadata
  - /library/collections...: collection membership management

All requests carry the X-Plex-Token header. Responses are XML; Plex only
answers JSON for a subset of these endpoints, so the client stays on the
XML surface throughout.

Related files:
  - extract.go: capability extraction from metadata XML
  - scanner.go: batched library scan orchestration
  - reconciler.go: collection set reconciliation
*/

//nolint:staticcheck // File documentation, not package doc
package scanner

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/metrics"
)

// ErrPlexUnavailable indicates Plex could not be reached at all. A scan
// hitting this aborts instead of skipping items.
var ErrPlexUnavailable = errors.New("plex unavailable")

// ErrSectionNotFound indicates the configured library name does not
// match any movie section on the server.
var ErrSectionNotFound = errors.New("library section not found")

// PlexClient handles communication with the Plex Media Server API.
type PlexClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewPlexClient creates an authenticated Plex API client.
func NewPlexClient(cfg config.PlexConfig) *PlexClient {
	return &PlexClient{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: clients.NewHTTPClient(cfg.Timeout),
	}
}

// ListedItem is one entry of a section or collection listing.
type ListedItem struct {
	RatingKey string
	Title     string
}

// Collection is a Plex collection as listed in a section.
type Collection struct {
	RatingKey string
	Title     string
}

// identityResponse is the /identity payload.
type identityResponse struct {
	MachineIdentifier string `xml:"machineIdentifier,attr"`
	Version           string `xml:"version,attr"`
}

// sectionsResponse is the /library/sections payload.
type sectionsResponse struct {
	Directories []struct {
		Key   string `xml:"key,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
	} `xml:"Directory"`
}

// listingResponse covers section listings, collection listings, and
// collection children: all are MediaContainers of Video or Directory
// elements.
type listingResponse struct {
	Videos []struct {
		RatingKey string `xml:"ratingKey,attr"`
		Title     string `xml:"title,attr"`
	} `xml:"Video"`
	Directories []struct {
		RatingKey string `xml:"ratingKey,attr"`
		Title     string `xml:"title,attr"`
	} `xml:"Directory"`
}

// TestConnection verifies the server is reachable and the token valid.
func (c *PlexClient) TestConnection(ctx context.Context) error {
	var identity identityResponse
	return c.getXML(ctx, "/identity", nil, &identity)
}

// MachineIdentifier returns the server's stable machine id, needed for
// collection creation URIs.
func (c *PlexClient) MachineIdentifier(ctx context.Context) (string, error) {
	var identity identityResponse
	if err := c.getXML(ctx, "/identity", nil, &identity); err != nil {
		return "", err
	}
	if identity.MachineIdentifier == "" {
		return "", &clients.MalformedError{Service: "plex", Err: errors.New("identity response missing machineIdentifier")}
	}
	return identity.MachineIdentifier, nil
}

// FindMovieSection resolves the configured library name to its section
// key. Only movie-type sections are considered.
func (c *PlexClient) FindMovieSection(ctx context.Context, name string) (string, error) {
	var sections sectionsResponse
	if err := c.getXML(ctx, "/library/sections", nil, &sections); err != nil {
		return "", err
	}

	for _, dir := range sections.Directories {
		if dir.Type == "movie" && strings.EqualFold(dir.Title, name) {
			return dir.Key, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrSectionNotFound, name)
}

// ListSectionItems returns every movie in a section in server order.
func (c *PlexClient) ListSectionItems(ctx context.Context, sectionKey string) ([]ListedItem, error) {
	var listing listingResponse
	query := url.Values{"type": {"1"}} // movies only
	path := fmt.Sprintf("/library/sections/%s/all", sectionKey)
	if err := c.getXML(ctx, path, query, &listing); err != nil {
		return nil, err
	}

	items := make([]ListedItem, 0, len(listing.Videos))
	for _, v := range listing.Videos {
		items = append(items, ListedItem{RatingKey: v.RatingKey, Title: v.Title})
	}
	return items, nil
}

// ListCollections returns the collections defined in a section.
func (c *PlexClient) ListCollections(ctx context.Context, sectionKey string) ([]Collection, error) {
	var listing listingResponse
	path := fmt.Sprintf("/library/sections/%s/collections", sectionKey)
	if err := c.getXML(ctx, path, nil, &listing); err != nil {
		return nil, err
	}

	collections := make([]Collection, 0, len(listing.Directories))
	for _, d := range listing.Directories {
		collections = append(collections, Collection{RatingKey: d.RatingKey, Title: d.Title})
	}
	return collections, nil
}

// CollectionItems returns the current membership of a collection.
func (c *PlexClient) CollectionItems(ctx context.Context, collectionKey string) ([]ListedItem, error) {
	var listing listingResponse
	path := fmt.Sprintf("/library/collections/%s/children", collectionKey)
	if err := c.getXML(ctx, path, nil, &listing); err != nil {
		return nil, err
	}

	items := make([]ListedItem, 0, len(listing.Videos))
	for _, v := range listing.Videos {
		items = append(items, ListedItem{RatingKey: v.RatingKey, Title: v.Title})
	}
	return items, nil
}

// CreateCollection creates a collection seeded with the given items and
// returns its rating key.
func (c *PlexClient) CreateCollection(ctx context.Context, sectionKey, title string, ratingKeys []string) (string, error) {
	machineID, err := c.MachineIdentifier(ctx)
	if err != nil {
		return "", err
	}

	query := url.Values{
		"type":      {"1"},
		"title":     {title},
		"smart":     {"0"},
		"sectionId": {sectionKey},
		"uri":       {itemsURI(machineID, ratingKeys)},
	}

	var listing listingResponse
	if err := c.do(ctx, http.MethodPost, "/library/collections", query, &listing); err != nil {
		return "", err
	}
	if len(listing.Directories) == 0 {
		return "", &clients.MalformedError{Service: "plex", Err: errors.New("collection create returned no directory")}
	}
	return listing.Directories[0].RatingKey, nil
}

// AddToCollection adds items to an existing collection.
func (c *PlexClient) AddToCollection(ctx context.Context, collectionKey string, ratingKeys []string) error {
	machineID, err := c.MachineIdentifier(ctx)
	if err != nil {
		return err
	}

	query := url.Values{"uri": {itemsURI(machineID, ratingKeys)}}
	path := fmt.Sprintf("/library/collections/%s/items", collectionKey)
	return c.do(ctx, http.MethodPut, path, query, nil)
}

// RemoveFromCollection removes a single item from a collection.
func (c *PlexClient) RemoveFromCollection(ctx context.Context, collectionKey, ratingKey string) error {
	path := fmt.Sprintf("/library/collections/%s/children/%s", collectionKey, ratingKey)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// itemsURI builds the server:// item URI Plex expects for collection
// mutation endpoints.
func itemsURI(machineID string, ratingKeys []string) string {
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s",
		machineID, strings.Join(ratingKeys, ","))
}

// getXML executes a GET and decodes the XML response.
func (c *PlexClient) getXML(ctx context.Context, path string, query url.Values, result any) error {
	return c.do(ctx, http.MethodGet, path, query, result)
}

func (c *PlexClient) do(ctx context.Context, method, path string, query url.Values, result any) error {
	start := time.Now()
	err := c.doRequest(ctx, method, path, query, result)
	metrics.RecordClientRequest("plex", time.Since(start), clients.ErrorKind(err))
	return err
}

func (c *PlexClient) doRequest(ctx context.Context, method, path string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &clients.TransportError{Service: "plex", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusNoContent {
		return &clients.ProtocolError{Service: "plex", StatusCode: resp.StatusCode}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := xml.NewDecoder(resp.Body).Decode(result); err != nil {
			return &clients.MalformedError{Service: "plex", Err: err}
		}
	}
	return nil
}
