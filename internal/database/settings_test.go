// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/dovetail/internal/models"
)

func TestSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetSetting(ctx, "greeting", "hello"))
	require.NoError(t, db.SetSetting(ctx, "greeting", "goodbye"))

	value, err := db.GetSetting(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "goodbye", value)
}

func TestPolicyRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Defaults come back before anything is saved.
	policy, err := db.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultUpgradePolicy(), policy)

	policy.NotifyDV = true
	policy.NotifyExpireHours = 48
	require.NoError(t, db.SavePolicy(ctx, policy))

	loaded, err := db.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.NotifyDV)
	assert.Equal(t, 48, loaded.NotifyExpireHours)
}

func TestSeedPolicy(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := models.DefaultUpgradePolicy()
	seed.NotifyAtmos = true
	require.NoError(t, db.SeedPolicy(ctx, seed))

	loaded, err := db.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.NotifyAtmos)

	// A saved policy is never overwritten by a later seed.
	seed.NotifyAtmos = false
	require.NoError(t, db.SeedPolicy(ctx, seed))

	loaded, err = db.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.NotifyAtmos)
}

func TestScanSnapshotRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.LoadScanSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	snap := &models.ScanSnapshot{
		StartedAt:  time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 1, 3, 12, 0, 0, time.UTC),
		Total:      812,
		DV:         310,
		P7:         120,
		FEL:        44,
		Atmos:      402,
		Added:      []string{"Dune"},
		Errors:     2,
	}
	require.NoError(t, db.SaveScanSnapshot(ctx, snap))

	loaded, err := db.LoadScanSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 812, loaded.Total)
	assert.Equal(t, []string{"Dune"}, loaded.Added)
	assert.Equal(t, 12*time.Minute, loaded.Duration())
}
