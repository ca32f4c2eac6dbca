// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// Settings keys. Values are JSON documents.
const (
	settingPolicy       = "upgrade_policy"
	settingScanSnapshot = "last_scan"
)

// GetSetting returns the raw value for a settings key, or ErrNotFound.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	metrics.RecordDBQuery("get", "settings", time.Since(start), ignoreNotFound(mapNoRows(err)))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a value under a settings key, replacing any previous
// value.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query, key, value, time.Now().UTC())
	metrics.RecordDBQuery("set", "settings", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// LoadPolicy returns the persisted upgrade policy, or the defaults when
// none has been stored yet.
func (db *DB) LoadPolicy(ctx context.Context) (models.UpgradePolicy, error) {
	raw, err := db.GetSetting(ctx, settingPolicy)
	if errors.Is(err, ErrNotFound) {
		return models.DefaultUpgradePolicy(), nil
	}
	if err != nil {
		return models.UpgradePolicy{}, err
	}

	var policy models.UpgradePolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return models.UpgradePolicy{}, fmt.Errorf("failed to unmarshal upgrade policy: %w", err)
	}
	return policy, nil
}

// SavePolicy persists the upgrade policy so control-plane edits survive
// restarts.
func (db *DB) SavePolicy(ctx context.Context, policy models.UpgradePolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal upgrade policy: %w", err)
	}
	return db.SetSetting(ctx, settingPolicy, string(data))
}

// SeedPolicy stores the configured upgrade policy unless one has
// already been saved. Control-plane edits win over config on restart.
func (db *DB) SeedPolicy(ctx context.Context, policy models.UpgradePolicy) error {
	_, err := db.GetSetting(ctx, settingPolicy)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return db.SavePolicy(ctx, policy)
}

// LoadScanSnapshot returns the persisted result of the last scan, or
// ErrNotFound when no scan has completed yet.
func (db *DB) LoadScanSnapshot(ctx context.Context) (*models.ScanSnapshot, error) {
	raw, err := db.GetSetting(ctx, settingScanSnapshot)
	if err != nil {
		return nil, err
	}

	var snap models.ScanSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scan snapshot: %w", err)
	}
	return &snap, nil
}

// SaveScanSnapshot persists the result of a completed scan.
func (db *DB) SaveScanSnapshot(ctx context.Context, snap *models.ScanSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal scan snapshot: %w", err)
	}
	return db.SetSetting(ctx, settingScanSnapshot, string(data))
}

// mapNoRows folds sql.ErrNoRows into ErrNotFound for metrics filtering.
func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
