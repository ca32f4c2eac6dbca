// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/dovetail/internal/config"
)

func newRadarrTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *RadarrClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewRadarrClient(config.RadarrConfig{
		URL:     srv.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	return srv, client
}

func TestRadarrMovieFolder(t *testing.T) {
	const movieList = `[
		{"id": 1, "title": "Dune", "year": 2021, "path": "/movies/Dune (2021)", "hasFile": true},
		{"id": 2, "title": "Dune", "year": 1984, "path": "/movies/Dune (1984)", "hasFile": true},
		{"id": 3, "title": "Arrival", "year": 2016, "path": "", "rootFolderPath": "/movies", "hasFile": false}
	]`

	_, client := newRadarrTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		switch r.URL.Path {
		case "/api/v3/movie":
			_, _ = w.Write([]byte(movieList))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()

	// Exact year wins over the other Dune.
	year := 1984
	folder, err := client.MovieFolder(ctx, "dune", &year)
	require.NoError(t, err)
	assert.Equal(t, "/movies/Dune (1984)", folder)

	// Unknown year falls back to the first title match.
	folder, err = client.MovieFolder(ctx, "DUNE", nil)
	require.NoError(t, err)
	assert.Equal(t, "/movies/Dune (2021)", folder)

	// Tracked but not on disk: root folder path.
	folder, err = client.MovieFolder(ctx, "Arrival", nil)
	require.NoError(t, err)
	assert.Equal(t, "/movies", folder)

	_, err = client.MovieFolder(ctx, "Nonexistent", nil)
	assert.ErrorIs(t, err, ErrMovieNotInRadarr)
}

func TestRadarrMovieFolder_RootFolderFallback(t *testing.T) {
	_, client := newRadarrTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/movie":
			_, _ = w.Write([]byte(`[{"id": 9, "title": "Heat", "year": 1995}]`))
		case "/api/v3/rootfolder":
			_, _ = w.Write([]byte(`[{"path": "/data/movies"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	folder, err := client.MovieFolder(context.Background(), "Heat", nil)
	require.NoError(t, err)
	assert.Equal(t, "/data/movies", folder)
}

func TestRadarrTestConnection(t *testing.T) {
	_, client := newRadarrTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/system/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"version": "5.2.6"}`))
	})

	assert.NoError(t, client.TestConnection(context.Background()))
}

func TestRadarrErrorTaxonomy(t *testing.T) {
	t.Run("protocol error on bad status", func(t *testing.T) {
		_, client := newRadarrTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		err := client.TestConnection(context.Background())
		var pe *ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
		assert.Equal(t, KindProtocol, ErrorKind(err))
	})

	t.Run("malformed error on bad json", func(t *testing.T) {
		_, client := newRadarrTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		})

		err := client.TestConnection(context.Background())
		var me *MalformedError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, KindMalformed, ErrorKind(err))
	})

	t.Run("transport error on refused connection", func(t *testing.T) {
		srv, client := newRadarrTestServer(t, func(_ http.ResponseWriter, _ *http.Request) {})
		srv.Close()

		err := client.TestConnection(context.Background())
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, KindTransport, ErrorKind(err))
	})
}
