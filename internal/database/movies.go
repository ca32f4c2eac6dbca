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

	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// LibraryCounts summarises the library by capability bucket.
type LibraryCounts struct {
	Total int `json:"total"`
	DV    int `json:"dv"`
	P7    int `json:"p7"`
	FEL   int `json:"fel"`
	Atmos int `json:"atmos"`
}

// UpsertCapability inserts or updates the capability record for a rating
// key. Returns true when the stored row changed.
//
// Writes to the same rating key are serialised through a per-key lock so
// concurrent batch workers cannot interleave the read-modify-write. An
// upsert carrying an identical fingerprint is a no-op, and last_updated
// never moves backwards.
func (db *DB) UpsertCapability(ctx context.Context, rec *models.CapabilityRecord) (bool, error) {
	if rec.RatingKey == "" {
		return false, fmt.Errorf("rating key is required")
	}
	if rec.DVFEL && rec.DVProfile != "7" {
		return false, fmt.Errorf("FEL flag requires DV profile 7, got %q", rec.DVProfile)
	}

	unlock := db.lockMovie(rec.RatingKey)
	defer unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	existing, err := db.getMovieLocked(ctx, rec.RatingKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordDBQuery("upsert", "movies", time.Since(start), err)
		return false, err
	}

	if existing != nil && sameFingerprint(existing, rec) {
		metrics.RecordDBQuery("upsert", "movies", time.Since(start), nil)
		return false, nil
	}

	lastUpdated := rec.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}
	if existing != nil && lastUpdated.Before(existing.LastUpdated) {
		lastUpdated = existing.LastUpdated
	}

	query := `INSERT INTO movies (
			rating_key, title, title_normalized, year,
			dv_profile, dv_fel, has_atmos,
			file_size, video_bitrate, audio_tracks,
			resolution, guid, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rating_key) DO UPDATE SET
			title = excluded.title,
			title_normalized = excluded.title_normalized,
			year = excluded.year,
			dv_profile = excluded.dv_profile,
			dv_fel = excluded.dv_fel,
			has_atmos = excluded.has_atmos,
			file_size = excluded.file_size,
			video_bitrate = excluded.video_bitrate,
			audio_tracks = excluded.audio_tracks,
			resolution = excluded.resolution,
			guid = excluded.guid,
			last_updated = excluded.last_updated`

	_, err = db.conn.ExecContext(ctx, query,
		rec.RatingKey, rec.Title, models.NormalizeTitle(rec.Title), nullableInt(rec.Year),
		rec.DVProfile, rec.DVFEL, rec.HasAtmos,
		rec.FileSize, rec.VideoBitrate, rec.AudioTracks,
		rec.Extra.Resolution, rec.Extra.GUID, lastUpdated,
	)
	metrics.RecordDBQuery("upsert", "movies", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to upsert movie %s: %w", rec.RatingKey, err)
	}

	return true, nil
}

// GetMovie returns the capability record for a rating key, or
// ErrNotFound.
func (db *DB) GetMovie(ctx context.Context, ratingKey string) (*models.CapabilityRecord, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return db.getMovieLocked(ctx, ratingKey)
}

// getMovieLocked performs the row read; callers needing write isolation
// hold the per-key lock.
func (db *DB) getMovieLocked(ctx context.Context, ratingKey string) (*models.CapabilityRecord, error) {
	query := `SELECT rating_key, title, year, dv_profile, dv_fel, has_atmos,
			file_size, video_bitrate, audio_tracks, resolution, guid, last_updated
		FROM movies WHERE rating_key = ?`

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, query, ratingKey)
	rec, err := scanMovie(row)
	metrics.RecordDBQuery("get", "movies", time.Since(start), ignoreNotFound(err))
	return rec, err
}

// FindMovieByTitle looks a movie up by normalised title, preferring an
// exact year match when year is non-nil. Returns ErrNotFound when no
// row matches.
func (db *DB) FindMovieByTitle(ctx context.Context, title string, year *int) (*models.CapabilityRecord, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	normalized := models.NormalizeTitle(title)

	if year != nil {
		query := `SELECT rating_key, title, year, dv_profile, dv_fel, has_atmos,
				file_size, video_bitrate, audio_tracks, resolution, guid, last_updated
			FROM movies WHERE title_normalized = ? AND year = ? LIMIT 1`
		start := time.Now()
		rec, err := scanMovie(db.conn.QueryRowContext(ctx, query, normalized, *year))
		metrics.RecordDBQuery("find_by_title", "movies", time.Since(start), ignoreNotFound(err))
		if err == nil || !errors.Is(err, ErrNotFound) {
			return rec, err
		}
		// Fall through to a title-only match: tracker years are often
		// off by one from Plex metadata.
	}

	query := `SELECT rating_key, title, year, dv_profile, dv_fel, has_atmos,
			file_size, video_bitrate, audio_tracks, resolution, guid, last_updated
		FROM movies WHERE title_normalized = ? ORDER BY year DESC NULLS LAST LIMIT 1`
	start := time.Now()
	rec, err := scanMovie(db.conn.QueryRowContext(ctx, query, normalized))
	metrics.RecordDBQuery("find_by_title", "movies", time.Since(start), ignoreNotFound(err))
	return rec, err
}

// MovieBucket selects a capability slice of the library.
type MovieBucket string

// Library listing buckets.
const (
	BucketAll   MovieBucket = "all"
	BucketDV    MovieBucket = "dv"
	BucketP7    MovieBucket = "p7"
	BucketFEL   MovieBucket = "fel"
	BucketAtmos MovieBucket = "atmos"
)

// ListMovies returns library records in a capability bucket, ordered by
// title.
func (db *DB) ListMovies(ctx context.Context, bucket MovieBucket) ([]*models.CapabilityRecord, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var where string
	switch bucket {
	case BucketAll, "":
		where = ""
	case BucketDV:
		where = "WHERE dv_profile <> ''"
	case BucketP7:
		where = "WHERE dv_profile = '7'"
	case BucketFEL:
		where = "WHERE dv_fel"
	case BucketAtmos:
		where = "WHERE has_atmos"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}

	query := fmt.Sprintf(`SELECT rating_key, title, year, dv_profile, dv_fel, has_atmos,
			file_size, video_bitrate, audio_tracks, resolution, guid, last_updated
		FROM movies %s ORDER BY title_normalized`, where)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		metrics.RecordDBQuery("list", "movies", time.Since(start), err)
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}
	defer closeWithLog(rows, "movie rows")

	var records []*models.CapabilityRecord
	for rows.Next() {
		rec, err := scanMovie(rows)
		if err != nil {
			metrics.RecordDBQuery("list", "movies", time.Since(start), err)
			return nil, err
		}
		records = append(records, rec)
	}
	err = rows.Err()
	metrics.RecordDBQuery("list", "movies", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate movies: %w", err)
	}
	return records, nil
}

// CountMovies returns per-bucket library counts in a single pass.
func (db *DB) CountMovies(ctx context.Context) (LibraryCounts, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE dv_profile <> ''),
			COUNT(*) FILTER (WHERE dv_profile = '7'),
			COUNT(*) FILTER (WHERE dv_fel),
			COUNT(*) FILTER (WHERE has_atmos)
		FROM movies`

	start := time.Now()
	var c LibraryCounts
	err := db.conn.QueryRowContext(ctx, query).Scan(&c.Total, &c.DV, &c.P7, &c.FEL, &c.Atmos)
	metrics.RecordDBQuery("count", "movies", time.Since(start), err)
	if err != nil {
		return LibraryCounts{}, fmt.Errorf("failed to count movies: %w", err)
	}
	return c, nil
}

// MissingMovies returns the titles of stored movies whose rating key is
// absent from the given set, in title order. The rows stay in place: a
// Plex deletion only ever surfaces as an absence here and in collection
// reconciliation, never as a store delete.
func (db *DB) MissingMovies(ctx context.Context, seen map[string]struct{}) ([]string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT rating_key, title FROM movies ORDER BY title_normalized`)
	if err != nil {
		metrics.RecordDBQuery("missing", "movies", time.Since(start), err)
		return nil, fmt.Errorf("failed to list rating keys: %w", err)
	}
	defer closeWithLog(rows, "rating key rows")

	var missing []string
	for rows.Next() {
		var key, title string
		if err := rows.Scan(&key, &title); err != nil {
			return nil, fmt.Errorf("failed to scan rating key: %w", err)
		}
		if _, ok := seen[key]; !ok {
			missing = append(missing, title)
		}
	}
	err = rows.Err()
	metrics.RecordDBQuery("missing", "movies", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate rating keys: %w", err)
	}
	return missing, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovie(row rowScanner) (*models.CapabilityRecord, error) {
	var (
		rec  models.CapabilityRecord
		year sql.NullInt64
	)
	err := row.Scan(
		&rec.RatingKey, &rec.Title, &year,
		&rec.DVProfile, &rec.DVFEL, &rec.HasAtmos,
		&rec.FileSize, &rec.VideoBitrate, &rec.AudioTracks,
		&rec.Extra.Resolution, &rec.Extra.GUID, &rec.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan movie: %w", err)
	}
	if year.Valid {
		y := int(year.Int64)
		rec.Year = &y
	}
	return &rec, nil
}

// sameFingerprint reports whether two records are identical ignoring
// last_updated.
func sameFingerprint(a, b *models.CapabilityRecord) bool {
	if a.Title != b.Title ||
		a.DVProfile != b.DVProfile ||
		a.DVFEL != b.DVFEL ||
		a.HasAtmos != b.HasAtmos ||
		a.FileSize != b.FileSize ||
		a.VideoBitrate != b.VideoBitrate ||
		a.AudioTracks != b.AudioTracks ||
		a.Extra.Resolution != b.Extra.Resolution ||
		a.Extra.GUID != b.Extra.GUID {
		return false
	}
	switch {
	case a.Year == nil && b.Year == nil:
		return true
	case a.Year == nil || b.Year == nil:
		return false
	default:
		return *a.Year == *b.Year
	}
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// ignoreNotFound strips ErrNotFound so metrics only count real failures.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
