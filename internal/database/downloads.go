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
	"github.com/google/uuid"

	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// CreatePending persists a new approval dialogue. The request id must be
// unique; natural-key dedupe against active dialogues is the caller's
// responsibility via HasActivePending.
func (db *DB) CreatePending(ctx context.Context, p *models.PendingDownload) error {
	if p.RequestID == "" {
		return fmt.Errorf("request id is required")
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(p.DownloadData)
	if err != nil {
		return fmt.Errorf("failed to marshal download data: %w", err)
	}

	query := `INSERT INTO pending_downloads (
			request_id, movie_title, year, torrent_url, target_folder,
			quality_type, status, torrent_hash, telegram_message_id,
			created_at, expires_at, approved_at, completed_at, download_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	_, err = db.conn.ExecContext(ctx, query,
		p.RequestID, p.MovieTitle, nullableInt(p.Year), p.TorrentURL, p.TargetFolder,
		string(p.QualityType), string(p.Status), p.TorrentHash, p.TelegramMessageID,
		p.CreatedAt, p.ExpiresAt, p.ApprovedAt, p.CompletedAt, string(data),
	)
	metrics.RecordDBQuery("create", "pending_downloads", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to create pending download %s: %w", p.RequestID, err)
	}
	return nil
}

// HasActivePending reports whether a non-terminal dialogue already
// exists for the same movie and quality bucket. Used to dedupe repeated
// tracker discoveries of the same upgrade.
func (db *DB) HasActivePending(ctx context.Context, movieTitle string, qt models.QualityType) (bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := `SELECT COUNT(*) FROM pending_downloads
		WHERE lower(movie_title) = lower(?) AND quality_type = ?
		AND status IN (?, ?)`

	start := time.Now()
	var n int
	err := db.conn.QueryRowContext(ctx, query,
		movieTitle, string(qt),
		string(models.StatusPending), string(models.StatusDownloading),
	).Scan(&n)
	metrics.RecordDBQuery("active_check", "pending_downloads", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to check active pending: %w", err)
	}
	return n > 0, nil
}

// GetPending returns the dialogue for a request id, or ErrNotFound.
func (db *DB) GetPending(ctx context.Context, requestID string) (*models.PendingDownload, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := pendingSelect + ` WHERE request_id = ?`
	start := time.Now()
	p, err := scanPending(db.conn.QueryRowContext(ctx, query, requestID))
	metrics.RecordDBQuery("get", "pending_downloads", time.Since(start), ignoreNotFound(err))
	return p, err
}

// GetPendingByMessageID recovers the dialogue attached to a Telegram
// message. Used when a callback arrives after a restart wiped the
// in-memory request map.
func (db *DB) GetPendingByMessageID(ctx context.Context, messageID int64) (*models.PendingDownload, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := pendingSelect + ` WHERE telegram_message_id = ? ORDER BY created_at DESC LIMIT 1`
	start := time.Now()
	p, err := scanPending(db.conn.QueryRowContext(ctx, query, messageID))
	metrics.RecordDBQuery("get_by_message", "pending_downloads", time.Since(start), ignoreNotFound(err))
	return p, err
}

// SetPendingMessageID records the Telegram message id once the approval
// dialogue has been sent.
func (db *DB) SetPendingMessageID(ctx context.Context, requestID string, messageID int64) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pending_downloads SET telegram_message_id = ? WHERE request_id = ?`,
		messageID, requestID)
	metrics.RecordDBQuery("set_message", "pending_downloads", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set message id for %s: %w", requestID, err)
	}
	return requireRow(res, requestID)
}

// SetPendingTorrentHash records the hash qBittorrent assigned to the
// dispatched torrent, captured right after a successful add.
func (db *DB) SetPendingTorrentHash(ctx context.Context, requestID, hash string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pending_downloads SET torrent_hash = ? WHERE request_id = ?`,
		hash, requestID)
	metrics.RecordDBQuery("set_hash", "pending_downloads", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set torrent hash for %s: %w", requestID, err)
	}
	return requireRow(res, requestID)
}

// ListPending returns all dialogues still awaiting a decision, oldest
// first.
func (db *DB) ListPending(ctx context.Context) ([]*models.PendingDownload, error) {
	return db.listByStatus(ctx, models.StatusPending)
}

// ListDownloading returns dialogues whose dispatch was accepted and
// whose torrent has not finished yet, oldest first.
func (db *DB) ListDownloading(ctx context.Context) ([]*models.PendingDownload, error) {
	return db.listByStatus(ctx, models.StatusDownloading)
}

func (db *DB) listByStatus(ctx context.Context, status models.DownloadStatus) ([]*models.PendingDownload, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := pendingSelect + ` WHERE status = ? ORDER BY created_at`
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, string(status))
	if err != nil {
		metrics.RecordDBQuery("list", "pending_downloads", time.Since(start), err)
		return nil, fmt.Errorf("failed to list pending downloads: %w", err)
	}
	defer closeWithLog(rows, "pending rows")

	var out []*models.PendingDownload
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			metrics.RecordDBQuery("list", "pending_downloads", time.Since(start), err)
			return nil, err
		}
		out = append(out, p)
	}
	err = rows.Err()
	metrics.RecordDBQuery("list", "pending_downloads", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate pending downloads: %w", err)
	}
	return out, nil
}

// TransitionPending moves a dialogue to the next lifecycle state,
// stamping approved_at and completed_at as appropriate. Returns
// ErrInvalidTransition when the state machine forbids the move, which
// callers use to make approval handling idempotent.
func (db *DB) TransitionPending(ctx context.Context, requestID string, next models.DownloadStatus) (*models.PendingDownload, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	p, err := db.GetPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.Status, next, requestID)
	}

	now := time.Now().UTC()
	switch next {
	case models.StatusDownloading:
		p.ApprovedAt = &now
	case models.StatusCompleted:
		p.CompletedAt = &now
	}
	p.Status = next

	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pending_downloads SET status = ?, approved_at = ?, completed_at = ? WHERE request_id = ?`,
		string(p.Status), p.ApprovedAt, p.CompletedAt, requestID)
	metrics.RecordDBQuery("transition", "pending_downloads", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to transition %s: %w", requestID, err)
	}
	if err := requireRow(res, requestID); err != nil {
		return nil, err
	}
	return p, nil
}

// RevertToPending returns a downloading dialogue to pending after a
// dispatch failure so the operator can approve again. This is the one
// edge the lifecycle state machine does not admit; it exists only for
// failed dispatches and is a no-op for any other state.
func (db *DB) RevertToPending(ctx context.Context, requestID string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE pending_downloads SET status = ?, approved_at = NULL WHERE request_id = ? AND status = ?`,
		string(models.StatusPending), requestID, string(models.StatusDownloading))
	metrics.RecordDBQuery("revert", "pending_downloads", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to revert %s: %w", requestID, err)
	}
	return nil
}

// DeletePending removes a dialogue outright. Used by the control plane
// to discard requests without recording a decision; ErrNotFound when no
// such request exists.
func (db *DB) DeletePending(ctx context.Context, requestID string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM pending_downloads WHERE request_id = ?`, requestID)
	metrics.RecordDBQuery("delete", "pending_downloads", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to delete pending %s: %w", requestID, err)
	}
	return requireRow(res, requestID)
}

// SweepExpired marks every overdue pending dialogue expired and returns
// the affected records so their Telegram messages can be edited.
func (db *DB) SweepExpired(ctx context.Context, now time.Time) ([]*models.PendingDownload, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := pendingSelect + ` WHERE status = ? AND expires_at <= ?`
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, string(models.StatusPending), now)
	if err != nil {
		metrics.RecordDBQuery("sweep", "pending_downloads", time.Since(start), err)
		return nil, fmt.Errorf("failed to query expired downloads: %w", err)
	}

	var expired []*models.PendingDownload
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			closeQuietly(rows)
			return nil, err
		}
		expired = append(expired, p)
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return nil, fmt.Errorf("failed to iterate expired downloads: %w", err)
	}
	closeQuietly(rows)

	for _, p := range expired {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE pending_downloads SET status = ? WHERE request_id = ?`,
			string(models.StatusExpired), p.RequestID)
		if err != nil {
			metrics.RecordDBQuery("sweep", "pending_downloads", time.Since(start), err)
			return nil, fmt.Errorf("failed to expire %s: %w", p.RequestID, err)
		}
		p.Status = models.StatusExpired
	}
	metrics.RecordDBQuery("sweep", "pending_downloads", time.Since(start), nil)
	return expired, nil
}

// CountPending returns the number of dialogues awaiting a decision.
func (db *DB) CountPending(ctx context.Context) (int, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	start := time.Now()
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_downloads WHERE status = ?`,
		string(models.StatusPending)).Scan(&n)
	metrics.RecordDBQuery("count", "pending_downloads", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending downloads: %w", err)
	}
	return n, nil
}

// AddHistory appends an audit row. A surrogate uuid is assigned when the
// entry carries none.
func (db *DB) AddHistory(ctx context.Context, e *models.HistoryEntry) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := `INSERT INTO download_history (
			id, request_id, movie_title, quality_type, torrent_hash,
			status, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, query,
		e.ID, e.RequestID, e.MovieTitle, string(e.QualityType), e.TorrentHash,
		string(e.Status), e.StartedAt, e.CompletedAt)
	metrics.RecordDBQuery("add", "download_history", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to add history entry: %w", err)
	}
	return nil
}

// ListHistory returns the most recent audit rows, newest first.
func (db *DB) ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, request_id, movie_title, quality_type, torrent_hash,
			status, started_at, completed_at
		FROM download_history ORDER BY started_at DESC LIMIT ?`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		metrics.RecordDBQuery("list", "download_history", time.Since(start), err)
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer closeWithLog(rows, "history rows")

	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			e         models.HistoryEntry
			qt        string
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.MovieTitle, &qt, &e.TorrentHash,
			&status, &e.StartedAt, &completed); err != nil {
			metrics.RecordDBQuery("list", "download_history", time.Since(start), err)
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.QualityType = models.QualityType(qt)
		e.Status = models.DownloadStatus(status)
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		out = append(out, &e)
	}
	err = rows.Err()
	metrics.RecordDBQuery("list", "download_history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return out, nil
}

const pendingSelect = `SELECT request_id, movie_title, year, torrent_url, target_folder,
		quality_type, status, torrent_hash, telegram_message_id,
		created_at, expires_at, approved_at, completed_at, download_data
	FROM pending_downloads`

func scanPending(row rowScanner) (*models.PendingDownload, error) {
	var (
		p         models.PendingDownload
		year      sql.NullInt64
		qt        string
		status    string
		approved  sql.NullTime
		completed sql.NullTime
		data      string
	)
	err := row.Scan(
		&p.RequestID, &p.MovieTitle, &year, &p.TorrentURL, &p.TargetFolder,
		&qt, &status, &p.TorrentHash, &p.TelegramMessageID,
		&p.CreatedAt, &p.ExpiresAt, &approved, &completed, &data,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending download: %w", err)
	}

	p.QualityType = models.QualityType(qt)
	p.Status = models.DownloadStatus(status)
	if year.Valid {
		y := int(year.Int64)
		p.Year = &y
	}
	if approved.Valid {
		t := approved.Time
		p.ApprovedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		p.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(data), &p.DownloadData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal download data for %s: %w", p.RequestID, err)
	}
	return &p, nil
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(res sql.Result, requestID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: pending download %s", ErrNotFound, requestID)
	}
	return nil
}
