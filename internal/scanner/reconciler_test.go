// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package scanner

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/models"
)

func newReconcileEnv(t *testing.T, fake *fakePlex, cfg config.CollectionsConfig) (*Reconciler, *database.DB, *fakePlex) {
	t.Helper()

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	plexCfg := config.PlexConfig{
		URL:     srv.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	}
	return NewReconciler(NewPlexClient(plexCfg), db, cfg, "Movies"), db, fake
}

func seedMovie(t *testing.T, db *database.DB, key, title, profile string, fel, atmos bool) {
	t.Helper()
	year := 2020
	_, err := db.UpsertCapability(context.Background(), &models.CapabilityRecord{
		RatingKey:   key,
		Title:       title,
		Year:        &year,
		DVProfile:   profile,
		DVFEL:       fel,
		HasAtmos:    atmos,
		LastUpdated: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func enabledCollections() config.CollectionsConfig {
	return config.CollectionsConfig{
		Enabled:         true,
		Mode:            "scan",
		DVCollection:    "Dolby Vision",
		FELCollection:   "DV FEL",
		AtmosCollection: "TrueHD Atmos",
	}
}

func TestReconcile_CreatesAndSeeds(t *testing.T) {
	r, db, fake := newReconcileEnv(t, newFakePlex(), enabledCollections())

	seedMovie(t, db, "1", "Dune", "7", true, true)
	seedMovie(t, db, "2", "Arrival", "8", false, false)
	seedMovie(t, db, "3", "Heat", "", false, true)

	results, err := r.Reconcile(context.Background(), ModeScan, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := make(map[string]CollectionResult)
	for _, res := range results {
		byName[res.Collection] = res
	}

	dv := byName["Dolby Vision"]
	assert.True(t, dv.Created)
	assert.ElementsMatch(t, []string{"Dune", "Arrival"}, dv.Added)

	fel := byName["DV FEL"]
	assert.True(t, fel.Created)
	assert.Equal(t, []string{"Dune"}, fel.Added)

	atmos := byName["TrueHD Atmos"]
	assert.True(t, atmos.Created)
	assert.ElementsMatch(t, []string{"Dune", "Heat"}, atmos.Added)

	// Collections were created server-side with the right membership.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	var felCol *fakeCollection
	for _, col := range fake.collections {
		if col.title == "DV FEL" {
			felCol = col
		}
	}
	require.NotNil(t, felCol)
	assert.Equal(t, map[string]bool{"1": true}, felCol.members)
}

func TestReconcile_AddsToExisting(t *testing.T) {
	fake := newFakePlex()
	fake.collections["9001"] = &fakeCollection{
		ratingKey: "9001",
		title:     "Dolby Vision",
		members:   map[string]bool{"1": true},
	}

	cfg := enabledCollections()
	cfg.FELCollection = ""
	cfg.AtmosCollection = ""
	r, db, _ := newReconcileEnv(t, fake, cfg)

	seedMovie(t, db, "1", "Dune", "7", true, true)
	seedMovie(t, db, "2", "Arrival", "8", false, false)

	results, err := r.Reconcile(context.Background(), ModeScan, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Created)
	assert.Equal(t, []string{"Arrival"}, results[0].Added)
	assert.Empty(t, results[0].Removed)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, map[string]bool{"1": true, "2": true}, fake.collections["9001"].members)
}

func TestReconcile_ScanModeNeverRemoves(t *testing.T) {
	fake := newFakePlex()
	// Key 99 is in the collection but not in the store.
	fake.collections["9001"] = &fakeCollection{
		ratingKey: "9001",
		title:     "Dolby Vision",
		members:   map[string]bool{"1": true, "99": true},
	}

	cfg := enabledCollections()
	cfg.FELCollection = ""
	cfg.AtmosCollection = ""
	r, db, _ := newReconcileEnv(t, fake, cfg)

	seedMovie(t, db, "1", "Dune", "7", true, true)

	results, err := r.Reconcile(context.Background(), ModeScan, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Removed)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.collections["9001"].members["99"])
}

func TestReconcile_VerifyModeRemoves(t *testing.T) {
	fake := newFakePlex()
	fake.collections["9001"] = &fakeCollection{
		ratingKey: "9001",
		title:     "Dolby Vision",
		members:   map[string]bool{"1": true, "99": true},
	}

	cfg := enabledCollections()
	cfg.FELCollection = ""
	cfg.AtmosCollection = ""
	r, db, _ := newReconcileEnv(t, fake, cfg)

	seedMovie(t, db, "1", "Dune", "7", true, true)

	results, err := r.Reconcile(context.Background(), ModeVerify, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"Movie 99"}, results[0].Removed)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.False(t, fake.collections["9001"].members["99"])
	assert.True(t, fake.collections["9001"].members["1"])
}

func TestReconcile_AbsentKeysStayOutOfCollections(t *testing.T) {
	cfg := enabledCollections()
	cfg.DVCollection = ""
	cfg.AtmosCollection = ""
	r, db, fake := newReconcileEnv(t, newFakePlex(), cfg)

	seedMovie(t, db, "1", "Dune", "7", true, true)
	seedMovie(t, db, "2", "Vanished", "7", true, false)

	// The scan only saw key 1; key 2's record is retained in the store
	// but must not enter the collection.
	present := map[string]struct{}{"1": {}}
	results, err := r.Reconcile(context.Background(), ModeScan, present)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"Dune"}, results[0].Added)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, col := range fake.collections {
		assert.Equal(t, map[string]bool{"1": true}, col.members)
	}
}

func TestReconcile_Disabled(t *testing.T) {
	cfg := enabledCollections()
	cfg.Enabled = false
	r, _, _ := newReconcileEnv(t, newFakePlex(), cfg)

	results, err := r.Reconcile(context.Background(), ModeScan, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestReconcile_EmptyNameDisablesCollection(t *testing.T) {
	cfg := enabledCollections()
	cfg.DVCollection = ""
	cfg.AtmosCollection = ""
	r, db, _ := newReconcileEnv(t, newFakePlex(), cfg)

	seedMovie(t, db, "1", "Dune", "7", true, true)

	results, err := r.Reconcile(context.Background(), ModeScan, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "DV FEL", results[0].Collection)
}

func TestReconcile_NoDesiredMembersSkipsCreation(t *testing.T) {
	cfg := enabledCollections()
	cfg.DVCollection = ""
	cfg.AtmosCollection = ""
	r, db, fake := newReconcileEnv(t, newFakePlex(), cfg)

	// Store holds no FEL movies, so the FEL collection must not be
	// created empty.
	seedMovie(t, db, "2", "Arrival", "8", false, false)

	results, err := r.Reconcile(context.Background(), ModeScan, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Created)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.collections)
}
