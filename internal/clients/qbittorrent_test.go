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
	"github.com/tomtom215/dovetail/internal/models"
)

// qbtFixture simulates the qBittorrent Web API session flow.
type qbtFixture struct {
	sid        string
	loginCount int
	addCount   int
	lastAdd    map[string]string
	rejectSID  bool

	infoJSON         string
	lastInfoCategory string
}

func (f *qbtFixture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			require.NoError(t, r.ParseForm())
			f.loginCount++
			if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "secret" {
				_, _ = w.Write([]byte("Fails."))
				return
			}
			f.sid = "session-1"
			f.rejectSID = false
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: f.sid})
			_, _ = w.Write([]byte("Ok."))

		case "/api/v2/torrents/add":
			// Cookie enforcement only applies once a session exists;
			// with no session the fixture behaves like a whitelisted
			// LAN client.
			if f.sid != "" || f.rejectSID {
				cookie, err := r.Cookie("SID")
				if f.rejectSID || err != nil || cookie.Value != f.sid {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}
			require.NoError(t, r.ParseForm())
			f.addCount++
			f.lastAdd = map[string]string{
				"urls":     r.PostForm.Get("urls"),
				"savepath": r.PostForm.Get("savepath"),
				"category": r.PostForm.Get("category"),
			}
			_, _ = w.Write([]byte("Ok."))

		case "/api/v2/torrents/info":
			if f.sid != "" || f.rejectSID {
				cookie, err := r.Cookie("SID")
				if f.rejectSID || err != nil || cookie.Value != f.sid {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}
			f.lastInfoCategory = r.URL.Query().Get("category")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(f.infoJSON))

		case "/api/v2/app/version":
			if !f.rejectSID {
				_, _ = w.Write([]byte("v5.0.1"))
				return
			}
			w.WriteHeader(http.StatusForbidden)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newQbtClient(t *testing.T, f *qbtFixture, lanMode bool) *QBittorrentClient {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	return NewQBittorrentClient(config.QBittorrentConfig{
		URL:            srv.URL,
		Username:       "admin",
		Password:       "secret",
		LANMode:        lanMode,
		CategoryPrefix: "movies",
		Timeout:        5 * time.Second,
	})
}

func TestQBittorrentAddTorrent(t *testing.T) {
	f := &qbtFixture{}
	client := newQbtClient(t, f, false)

	err := client.AddTorrent(context.Background(),
		"https://tracker.example/dl/42", "/movies/Dune (2021)", models.QualityFEL)
	require.NoError(t, err)

	assert.Equal(t, 1, f.loginCount)
	assert.Equal(t, 1, f.addCount)
	assert.Equal(t, "https://tracker.example/dl/42", f.lastAdd["urls"])
	assert.Equal(t, "/movies/Dune (2021)", f.lastAdd["savepath"])
	assert.Equal(t, "movies-fel", f.lastAdd["category"])

	// Session is reused for the second add.
	err = client.AddTorrent(context.Background(),
		"magnet:?xt=urn:btih:abc", "/movies/Arrival (2016)", models.QualityAtmos)
	require.NoError(t, err)
	assert.Equal(t, 1, f.loginCount)
	assert.Equal(t, "movies-atmos", f.lastAdd["category"])
}

func TestQBittorrentAddTorrent_ReloginOnLapsedSession(t *testing.T) {
	f := &qbtFixture{}
	client := newQbtClient(t, f, false)

	require.NoError(t, client.AddTorrent(context.Background(),
		"https://tracker.example/dl/1", "/movies", models.QualityDV))

	// Invalidate the server-side session; the next add must retry with
	// a fresh login exactly once.
	f.rejectSID = true

	require.NoError(t, client.AddTorrent(context.Background(),
		"https://tracker.example/dl/2", "/movies", models.QualityDV))
	assert.Equal(t, 2, f.loginCount)
	assert.Equal(t, 2, f.addCount)
}

func TestQBittorrentAddTorrent_RejectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "s"})
			_, _ = w.Write([]byte("Ok."))
		case "/api/v2/torrents/add":
			// qBittorrent answers 200 with "Fails." for rejected torrents.
			_, _ = w.Write([]byte("Fails."))
		}
	}))
	t.Cleanup(srv.Close)

	client := NewQBittorrentClient(config.QBittorrentConfig{
		URL: srv.URL, Username: "admin", Password: "secret", Timeout: 5 * time.Second,
	})

	err := client.AddTorrent(context.Background(), "https://x", "/movies", models.QualityHDR)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Body, "Fails.")
}

func TestQBittorrentLANMode(t *testing.T) {
	f := &qbtFixture{}
	client := newQbtClient(t, f, true)

	// LAN mode never logs in; the fixture accepts requests matching its
	// zero-value SID when no cookie is enforced.
	f.sid = ""
	err := client.AddTorrent(context.Background(), "https://x", "/movies", models.QualityFEL)
	require.NoError(t, err)
	assert.Equal(t, 0, f.loginCount)
}

func TestQBittorrentBadCredentials(t *testing.T) {
	f := &qbtFixture{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	client := NewQBittorrentClient(config.QBittorrentConfig{
		URL: srv.URL, Username: "admin", Password: "wrong", Timeout: 5 * time.Second,
	})

	err := client.TestConnection(context.Background())
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Body, "Fails.")
}

func TestQBittorrentTorrents(t *testing.T) {
	f := &qbtFixture{infoJSON: `[
		{"name":"Dune.2021.2160p","hash":"aa11","progress":1.0,"state":"uploading","save_path":"/movies/Dune (2021)","added_on":1755945600},
		{"name":"Heat.1995.2160p","hash":"bb22","progress":0.37,"state":"downloading","save_path":"/movies/Heat (1995)","added_on":1756032000}
	]`}
	client := newQbtClient(t, f, false)

	torrents, err := client.Torrents(context.Background(), models.QualityFEL)
	require.NoError(t, err)
	assert.Equal(t, "movies-fel", f.lastInfoCategory)

	require.Len(t, torrents, 2)
	assert.True(t, torrents[0].Finished())
	assert.Equal(t, "/movies/Dune (2021)", torrents[0].SavePath)
	assert.Equal(t, int64(1755945600), torrents[0].AddedOn)
	assert.False(t, torrents[1].Finished())
}

func TestQBittorrentCategory(t *testing.T) {
	client := NewQBittorrentClient(config.QBittorrentConfig{CategoryPrefix: "movies"})
	assert.Equal(t, "movies-fel", client.Category(models.QualityFEL))
	assert.Equal(t, "movies-dv", client.Category(models.QualityDV))
	assert.Equal(t, "movies-hdr", client.Category(models.QualityHDR))
	assert.Equal(t, "movies-atmos", client.Category(models.QualityAtmos))
}
