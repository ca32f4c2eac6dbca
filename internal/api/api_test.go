// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/models"
	"github.com/tomtom215/dovetail/internal/reports"
	"github.com/tomtom215/dovetail/internal/scanner"
)

type fakeScans struct {
	mu       sync.Mutex
	scanning bool
	ran      chan scanner.ReconcileMode
}

func newFakeScans() *fakeScans {
	return &fakeScans{ran: make(chan scanner.ReconcileMode, 8)}
}

func (f *fakeScans) RunScan(_ context.Context, mode scanner.ReconcileMode) (*models.ScanSnapshot, error) {
	f.ran <- mode
	return &models.ScanSnapshot{}, nil
}

func (f *fakeScans) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

type fakeMonitor struct {
	mu     sync.Mutex
	active bool
	next   time.Time
}

func (f *fakeMonitor) Start() { f.mu.Lock(); f.active = true; f.mu.Unlock() }
func (f *fakeMonitor) Stop()  { f.mu.Lock(); f.active = false; f.mu.Unlock() }

func (f *fakeMonitor) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeMonitor) NextScan() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

type fakeReports struct {
	files []reports.ReportFile
	err   error
}

func (f *fakeReports) List() ([]reports.ReportFile, error) { return f.files, f.err }

type fakeTester struct{ err error }

func (f *fakeTester) TestConnection(context.Context) error { return f.err }

type fakeBreaker struct{ state string }

func (f *fakeBreaker) BreakerState() string { return f.state }

type apiEnv struct {
	db      *database.DB
	scans   *fakeScans
	monitor *fakeMonitor
	srv     *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	scans := newFakeScans()
	mon := &fakeMonitor{active: true, next: time.Now().Add(time.Hour)}
	testers := map[string]ConnectionTester{
		"plex":   &fakeTester{},
		"radarr": &fakeTester{err: errors.New("connection refused")},
	}
	rt := NewRouter(db, scans, mon,
		&fakeReports{files: []reports.ReportFile{{Name: "movies_20260101_000000.csv", Size: 42}}},
		&fakeBreaker{state: "closed"}, testers, config.ServerConfig{})

	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)

	return &apiEnv{db: db, scans: scans, monitor: mon, srv: srv}
}

func (e *apiEnv) do(t *testing.T, method, path, body string) (int, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}

func seedMovie(t *testing.T, db *database.DB, key, title string, fel bool) {
	t.Helper()
	year := 2021
	_, err := db.UpsertCapability(context.Background(), &models.CapabilityRecord{
		RatingKey:   key,
		Title:       title,
		Year:        &year,
		DVProfile:   "7",
		DVFEL:       fel,
		HasAtmos:    true,
		LastUpdated: time.Now().UTC(),
		Extra:       models.CapabilityExtra{Resolution: "2160p"},
	})
	require.NoError(t, err)
}

func TestStatus(t *testing.T) {
	env := newAPIEnv(t)
	seedMovie(t, env.db, "1", "Dune", true)
	seedMovie(t, env.db, "2", "Arrival", false)

	code, envelope := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, envelope.Success)

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var payload statusPayload
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.False(t, payload.Scanning)
	assert.True(t, payload.Monitoring)
	require.NotNil(t, payload.NextScan)
	assert.Equal(t, 2, payload.Library.Total)
	assert.Equal(t, 1, payload.Library.FEL)
	assert.Zero(t, payload.Pending)
	assert.Equal(t, "closed", payload.Tracker)
}

func TestScanEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	code, envelope := env.do(t, http.MethodPost, "/api/scan", `{"mode":"verify"}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, envelope.Success)

	select {
	case mode := <-env.scans.ran:
		assert.Equal(t, scanner.ModeVerify, mode)
	case <-time.After(time.Second):
		t.Fatal("scan never launched")
	}

	code, envelope = env.do(t, http.MethodPost, "/api/scan", `{"mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "bad_request", envelope.Error.Code)
}

func TestScanEndpoint_ConflictWhileScanning(t *testing.T) {
	env := newAPIEnv(t)
	env.scans.mu.Lock()
	env.scans.scanning = true
	env.scans.mu.Unlock()

	code, envelope := env.do(t, http.MethodPost, "/api/scan", `{"mode":"start"}`)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "scan_in_progress", envelope.Error.Code)
}

func TestMonitorEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/monitor", `{"action":"stop"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, env.monitor.Active())

	code, _ = env.do(t, http.MethodPost, "/api/monitor", `{"action":"start"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.monitor.Active())

	code, envelope := env.do(t, http.MethodPost, "/api/monitor", `{"action":"reboot"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, envelope.Error)
}

func TestMoviesEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	seedMovie(t, env.db, "1", "Dune", true)
	seedMovie(t, env.db, "2", "Arrival", false)

	code, envelope := env.do(t, http.MethodGet, "/api/movies/fel", "")
	require.Equal(t, http.StatusOK, code)
	movies, ok := envelope.Data.([]any)
	require.True(t, ok)
	assert.Len(t, movies, 1)

	code, envelope = env.do(t, http.MethodGet, "/api/movies/bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, envelope.Error)
	assert.Contains(t, envelope.Error.Message, "unknown movie bucket")
}

func TestDeletePendingEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	now := time.Now().UTC()
	require.NoError(t, env.db.CreatePending(context.Background(), &models.PendingDownload{
		RequestID:    "abc123def456",
		MovieTitle:   "Dune",
		TorrentURL:   "https://tracker.example/dl/42",
		TargetFolder: "/movies/Dune (2021)",
		QualityType:  models.QualityFEL,
		Status:       models.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}))

	code, envelope := env.do(t, http.MethodDelete, "/api/pending/abc123def456", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, envelope.Success)

	pending, err := env.db.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	code, envelope = env.do(t, http.MethodDelete, "/api/pending/abc123def456", "")
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, envelope.Error)
}

func TestHistoryEndpoint_LimitValidation(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusOK, code)

	code, envelope := env.do(t, http.MethodGet, "/api/history?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, envelope.Error)
}

func TestPolicyRoundTrip(t *testing.T) {
	env := newAPIEnv(t)

	code, envelope := env.do(t, http.MethodGet, "/api/policy", "")
	require.Equal(t, http.StatusOK, code)

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var policy models.UpgradePolicy
	require.NoError(t, json.Unmarshal(data, &policy))
	assert.Equal(t, models.DefaultUpgradePolicy(), policy)

	policy.NotifyAtmos = true
	policy.NotifyExpireHours = 48
	body, err := json.Marshal(policy)
	require.NoError(t, err)

	code, _ = env.do(t, http.MethodPut, "/api/policy", string(body))
	require.Equal(t, http.StatusOK, code)

	saved, err := env.db.LoadPolicy(context.Background())
	require.NoError(t, err)
	assert.True(t, saved.NotifyAtmos)
	assert.Equal(t, 48, saved.NotifyExpireHours)

	policy.NotifyExpireHours = 0
	body, err = json.Marshal(policy)
	require.NoError(t, err)
	code, envelope = env.do(t, http.MethodPut, "/api/policy", string(body))
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, envelope.Error)
}

func TestReportsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	code, envelope := env.do(t, http.MethodGet, "/api/reports", "")
	require.Equal(t, http.StatusOK, code)
	files, ok := envelope.Data.([]any)
	require.True(t, ok)
	require.Len(t, files, 1)
}

func TestConnectionTestEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	code, envelope := env.do(t, http.MethodPost, "/api/test/plex", "")
	require.Equal(t, http.StatusOK, code)
	result, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["ok"])

	code, envelope = env.do(t, http.MethodPost, "/api/test/radarr", "")
	require.Equal(t, http.StatusOK, code)
	result, ok = envelope.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, result["ok"])
	assert.Contains(t, result["error"], "connection refused")

	code, envelope = env.do(t, http.MethodPost, "/api/test/sonarr", "")
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, envelope.Error)
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)

	code, envelope := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, envelope.Success)
}
