// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package scanner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
)

// fakePlex serves the subset of the Plex XML API the scanner touches.
type fakePlex struct {
	mu sync.Mutex

	// movies maps rating key to metadata XML for /library/metadata.
	movies map[string]string
	// order fixes the section listing order.
	order []string
	// failKeys answer 500 for specific items.
	failKeys map[string]bool

	// collections state for reconciler tests.
	collections map[string]*fakeCollection
	nextColKey  int
}

type fakeCollection struct {
	ratingKey string
	title     string
	members   map[string]bool
}

func newFakePlex() *fakePlex {
	return &fakePlex{
		movies:      make(map[string]string),
		failKeys:    make(map[string]bool),
		collections: make(map[string]*fakeCollection),
		nextColKey:  9000,
	}
}

func (f *fakePlex) addMovie(key, title string, metadataXML string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movies[key] = metadataXML
	f.order = append(f.order, key)
}

func (f *fakePlex) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/identity", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Plex-Token"))
		fmt.Fprint(w, `<MediaContainer machineIdentifier="machine-1" version="1.41.0"/>`)
	})

	mux.HandleFunc("/library/sections", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<MediaContainer>
			<Directory key="1" type="movie" title="Movies"/>
			<Directory key="2" type="show" title="TV"/>
		</MediaContainer>`)
	})

	mux.HandleFunc("/library/sections/1/all", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var b strings.Builder
		b.WriteString("<MediaContainer>")
		for _, key := range f.order {
			fmt.Fprintf(&b, `<Video ratingKey="%s" title="Movie %s"/>`, key, key)
		}
		b.WriteString("</MediaContainer>")
		fmt.Fprint(w, b.String())
	})

	mux.HandleFunc("/library/sections/1/collections", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var b strings.Builder
		b.WriteString("<MediaContainer>")
		for _, col := range f.collections {
			fmt.Fprintf(&b, `<Directory ratingKey="%s" title="%s"/>`, col.ratingKey, col.title)
		}
		b.WriteString("</MediaContainer>")
		fmt.Fprint(w, b.String())
	})

	mux.HandleFunc("/library/collections", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextColKey++
		key := fmt.Sprintf("%d", f.nextColKey)
		col := &fakeCollection{
			ratingKey: key,
			title:     r.URL.Query().Get("title"),
			members:   make(map[string]bool),
		}
		for _, k := range uriKeys(r.URL.Query().Get("uri")) {
			col.members[k] = true
		}
		f.collections[key] = col
		fmt.Fprintf(w, `<MediaContainer><Directory ratingKey="%s" title="%s"/></MediaContainer>`,
			col.ratingKey, col.title)
	})

	mux.HandleFunc("/library/collections/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/library/collections/"), "/")
		col, ok := f.collections[parts[0]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case len(parts) == 2 && parts[1] == "children" && r.Method == http.MethodGet:
			var b strings.Builder
			b.WriteString("<MediaContainer>")
			for k := range col.members {
				fmt.Fprintf(&b, `<Video ratingKey="%s" title="Movie %s"/>`, k, k)
			}
			b.WriteString("</MediaContainer>")
			fmt.Fprint(w, b.String())

		case len(parts) == 2 && parts[1] == "items" && r.Method == http.MethodPut:
			for _, k := range uriKeys(r.URL.Query().Get("uri")) {
				col.members[k] = true
			}

		case len(parts) == 3 && parts[1] == "children" && r.Method == http.MethodDelete:
			delete(col.members, parts[2])

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	mux.HandleFunc("/library/metadata/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/library/metadata/")
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failKeys[key] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		doc, ok := f.movies[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, doc)
	})

	return mux
}

func uriKeys(uri string) []string {
	idx := strings.LastIndex(uri, "/metadata/")
	if idx < 0 {
		return nil
	}
	return strings.Split(uri[idx+len("/metadata/"):], ",")
}

func movieXML(key, title string, year int, profile string, fel, atmos bool) string {
	felAttr := "0"
	if fel {
		felAttr = "1"
	}
	dv := ""
	if profile != "" {
		dv = fmt.Sprintf(`DOVIProfile="%s" DOVIBLPresent="1" DOVIELPresent="%s"`, profile, felAttr)
	}
	audio := `<Stream streamType="2" codec="ac3" displayTitle="English (AC3 5.1)"/>`
	if atmos {
		audio = `<Stream streamType="2" codec="truehd" displayTitle="TrueHD Atmos 7.1"/>`
	}
	return fmt.Sprintf(`<MediaContainer>
		<Video ratingKey="%s" title="%s" year="%d">
			<Media videoResolution="4k" bitrate="45000">
				<Part size="40000000000">
					<Stream streamType="1" codec="hevc" bitrate="42000" %s/>
					%s
				</Part>
			</Media>
		</Video>
	</MediaContainer>`, key, title, year, dv, audio)
}

func newScanEnv(t *testing.T, fake *fakePlex) (*Scanner, *database.DB, *PlexClient) {
	t.Helper()

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.PlexConfig{
		URL:         srv.URL,
		Token:       "test-token",
		LibraryName: "Movies",
		BatchSize:   2,
		Concurrency: 4,
		Timeout:     5 * time.Second,
	}
	plex := NewPlexClient(cfg)
	return NewScanner(plex, db, cfg, nil), db, plex
}

func TestScanLibrary(t *testing.T) {
	fake := newFakePlex()
	fake.addMovie("1", "Dune", movieXML("1", "Dune", 2021, "7", true, true))
	fake.addMovie("2", "Arrival", movieXML("2", "Arrival", 2016, "8", false, false))
	fake.addMovie("3", "Heat", movieXML("3", "Heat", 1995, "", false, true))

	s, db, _ := newScanEnv(t, fake)

	snap, seen, err := s.ScanLibrary(context.Background())
	require.NoError(t, err)

	assert.Len(t, seen, 3)
	assert.Contains(t, seen, "1")
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.DV)
	assert.Equal(t, 1, snap.P7)
	assert.Equal(t, 1, snap.FEL)
	assert.Equal(t, 2, snap.Atmos)
	assert.Len(t, snap.Added, 3)
	assert.Empty(t, snap.Updated)
	assert.Zero(t, snap.Errors)

	// Snapshot persisted.
	loaded, err := db.LoadScanSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Total)

	// Second scan over an unchanged library reports nothing new.
	snap, _, err = s.ScanLibrary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Added)
	assert.Empty(t, snap.Updated)
}

func TestScanLibrary_ProgressAndBatches(t *testing.T) {
	fake := newFakePlex()
	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("%d", i)
		fake.addMovie(key, "Movie "+key, movieXML(key, "Movie "+key, 2000+i, "", false, false))
	}

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.PlexConfig{
		URL: srv.URL, Token: "test-token", LibraryName: "Movies",
		BatchSize: 2, Concurrency: 2, Timeout: 5 * time.Second,
	}

	var mu sync.Mutex
	var progress [][2]int
	s := NewScanner(NewPlexClient(cfg), db, cfg, func(processed, total int) {
		mu.Lock()
		progress = append(progress, [2]int{processed, total})
		mu.Unlock()
	})

	_, _, err = s.ScanLibrary(context.Background())
	require.NoError(t, err)

	// Batches of 2 over 5 items: progress after 2, 4, 5.
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestScanLibrary_PerItemFailureSkips(t *testing.T) {
	fake := newFakePlex()
	fake.addMovie("1", "Dune", movieXML("1", "Dune", 2021, "7", true, true))
	fake.addMovie("2", "Broken", movieXML("2", "Broken", 2020, "", false, false))
	fake.failKeys["2"] = true

	s, db, _ := newScanEnv(t, fake)

	snap, _, err := s.ScanLibrary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Errors)

	_, err = db.GetMovie(context.Background(), "1")
	assert.NoError(t, err)
}

func TestScanLibrary_RemovedReportedNotDeleted(t *testing.T) {
	fake := newFakePlex()
	fake.addMovie("1", "Dune", movieXML("1", "Dune", 2021, "7", true, true))
	fake.addMovie("2", "Gone", movieXML("2", "Gone", 2010, "", false, false))

	s, db, _ := newScanEnv(t, fake)
	_, _, err := s.ScanLibrary(context.Background())
	require.NoError(t, err)

	// Movie 2 disappears from Plex before the next scan.
	fake.mu.Lock()
	fake.order = []string{"1"}
	delete(fake.movies, "2")
	fake.mu.Unlock()

	snap, seen, err := s.ScanLibrary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Gone"}, snap.Removed)
	assert.NotContains(t, seen, "2")

	// The capability row survives the absence; only the digest and the
	// present set report the removal.
	rec, err := db.GetMovie(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "Gone", rec.Title)
}

func TestScanLibrary_PlexUnavailable(t *testing.T) {
	fake := newFakePlex()
	fake.addMovie("1", "Dune", movieXML("1", "Dune", 2021, "7", true, true))

	srv := httptest.NewServer(fake.handler(t))
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.PlexConfig{
		URL: srv.URL, Token: "test-token", LibraryName: "Movies",
		BatchSize: 2, Concurrency: 2, Timeout: 2 * time.Second,
	}
	s := NewScanner(NewPlexClient(cfg), db, cfg, nil)

	// Server gone before the scan even lists the section.
	srv.Close()

	_, _, err = s.ScanLibrary(context.Background())
	assert.ErrorIs(t, err, ErrPlexUnavailable)
}

func TestScanLibrary_SectionNotFound(t *testing.T) {
	fake := newFakePlex()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.PlexConfig{
		URL: srv.URL, Token: "test-token", LibraryName: "Anime",
		BatchSize: 2, Concurrency: 2, Timeout: 5 * time.Second,
	}
	s := NewScanner(NewPlexClient(cfg), db, cfg, nil)

	_, _, err = s.ScanLibrary(context.Background())
	assert.ErrorIs(t, err, ErrSectionNotFound)
}
