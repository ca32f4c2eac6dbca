// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

/*
schema.go - Database Schema Management

Tables:
  - movies: one row per library item, keyed by the Plex rating key,
    holding the normalised capability fingerprint
  - pending_downloads: approval dialogues in flight, keyed by request id
  - download_history: append-only audit trail of download attempts
  - settings: key-value store for the upgrade policy and scan snapshots

All columns are defined in the initial CREATE TABLE statements; there is
no migration layer. Indexes cover the title+year lookup used for tracker
matching and the status scans used by the expiry sweeper.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables and indexes.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table and index creation statements.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS movies (
			rating_key TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			title_normalized TEXT NOT NULL,
			year INTEGER,
			dv_profile TEXT NOT NULL DEFAULT '',
			dv_fel BOOLEAN NOT NULL DEFAULT FALSE,
			has_atmos BOOLEAN NOT NULL DEFAULT FALSE,
			file_size BIGINT NOT NULL DEFAULT 0,
			video_bitrate DOUBLE NOT NULL DEFAULT 0,
			audio_tracks TEXT NOT NULL DEFAULT '',
			resolution TEXT NOT NULL DEFAULT '',
			guid TEXT NOT NULL DEFAULT '',
			last_updated TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS pending_downloads (
			request_id TEXT PRIMARY KEY,
			movie_title TEXT NOT NULL,
			year INTEGER,
			torrent_url TEXT NOT NULL,
			target_folder TEXT NOT NULL DEFAULT '',
			quality_type TEXT NOT NULL,
			status TEXT NOT NULL,
			torrent_hash TEXT NOT NULL DEFAULT '',
			telegram_message_id BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			approved_at TIMESTAMP,
			completed_at TIMESTAMP,
			download_data TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS download_history (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			movie_title TEXT NOT NULL,
			quality_type TEXT NOT NULL,
			torrent_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_movies_title_year
			ON movies (title_normalized, year)`,

		`CREATE INDEX IF NOT EXISTS idx_movies_capabilities
			ON movies (dv_profile, dv_fel, has_atmos)`,

		`CREATE INDEX IF NOT EXISTS idx_pending_status
			ON pending_downloads (status, expires_at)`,

		`CREATE INDEX IF NOT EXISTS idx_pending_message
			ON pending_downloads (telegram_message_id)`,

		`CREATE INDEX IF NOT EXISTS idx_history_started
			ON download_history (started_at)`,
	}
}
