// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/models"
)

const feedJSON = `[
  {"id": "rel-1", "name": "Dune.2021.2160p.UHD.BluRay.DV.FEL.TrueHD.Atmos", "download_url": "https://tracker.example/dl/1", "published_at": "2026-08-20T10:00:00Z"},
  {"id": "rel-2", "name": "Arrival.2016.2160p.DV.P8", "download_url": "https://tracker.example/dl/2", "published_at": "2026-08-20T11:00:00Z"},
  {"id": "", "name": "broken row", "download_url": "https://tracker.example/dl/3", "published_at": "2026-08-20T12:00:00Z"}
]`

func testClient(t *testing.T, handler http.Handler, maxFailures uint32) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.TrackerConfig{
		URL:                srv.URL,
		Cookie:             "session=abc",
		Timeout:            2 * time.Second,
		BreakerMaxFailures: maxFailures,
		BreakerCooldown:    time.Minute,
	})
}

func testSeenSet(t *testing.T) *SeenSet {
	t.Helper()
	seen, err := OpenSeenSet("", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seen.Close() })
	return seen
}

func TestGetReleases(t *testing.T) {
	var gotCookie atomic.Value
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie.Store(r.Header.Get("Cookie"))
		fmt.Fprint(w, feedJSON)
	}), 3)

	releases, err := client.GetReleases(context.Background())
	require.NoError(t, err)

	// The row without an id is dropped.
	require.Len(t, releases, 2)
	assert.Equal(t, "rel-1", releases[0].Identifier)
	assert.Equal(t, "Dune.2021.2160p.UHD.BluRay.DV.FEL.TrueHD.Atmos", releases[0].Title)
	assert.Equal(t, "https://tracker.example/dl/1", releases[0].URL)
	assert.Equal(t, "session=abc", gotCookie.Load())
}

func TestGetReleases_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.GetReleases(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
	assert.Equal(t, "open", client.BreakerState())

	// Third poll fails fast without a request.
	before := calls.Load()
	_, err := client.GetReleases(ctx)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, before, calls.Load())
}

func TestGetReleases_MalformedFeed(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html>login required</html>`)
	}), 5)

	_, err := client.GetReleases(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestSeenSet_FilterAndMark(t *testing.T) {
	seen := testSeenSet(t)

	releases := []models.Release{
		{Identifier: "rel-1", Title: "Dune"},
		{Identifier: "rel-2", Title: "Arrival"},
	}

	fresh, err := seen.FilterNew(releases)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	require.NoError(t, seen.MarkSeen(fresh))

	// Second pass: both known, plus one genuinely new.
	fresh, err = seen.FilterNew(append(releases, models.Release{Identifier: "rel-3", Title: "Heat"}))
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "rel-3", fresh[0].Identifier)
}

func TestPoller_Poll(t *testing.T) {
	var polls atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		fmt.Fprint(w, feedJSON)
	}), 3)

	poller := NewPoller(client, testSeenSet(t))

	fresh, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	// Nothing is marked until delivery is confirmed: a poll after a
	// crash mid-batch surfaces the same releases again.
	fresh, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	require.NoError(t, poller.MarkDelivered(fresh))

	// Same snapshot again: nothing new.
	fresh, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, int64(3), polls.Load())
}

func TestPoller_SeenGCPiggybacksOnPoll(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	}), 3)

	poller := NewPoller(client, testSeenSet(t))

	// Fresh poller: no GC due yet.
	before := poller.lastGC
	_, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, poller.lastGC)

	// Once the interval has elapsed, the next poll runs a GC cycle and
	// restarts the clock.
	poller.lastGC = time.Now().Add(-2 * seenGCInterval)
	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), poller.lastGC, time.Minute)
}
