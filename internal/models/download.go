// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package models

import "time"

// DownloadStatus is the lifecycle state of a pending download.
type DownloadStatus string

// Pending download lifecycle states. Only Pending → Downloading performs
// external side effects beyond the store.
const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusDeclined    DownloadStatus = "declined"
	StatusExpired     DownloadStatus = "expired"
)

// IsTerminal reports whether the status admits no further transitions.
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from
// s to next. The machine never regresses along its edges.
func (s DownloadStatus) CanTransitionTo(next DownloadStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusDownloading || next == StatusDeclined || next == StatusExpired
	case StatusDownloading:
		return next == StatusCompleted
	}
	return false
}

// QualityType buckets a candidate release for qBittorrent categorisation.
type QualityType string

// Quality buckets, best first. The qBittorrent category is derived as
// "movies-<quality_type>".
const (
	QualityFEL   QualityType = "fel"
	QualityDV    QualityType = "dv"
	QualityHDR   QualityType = "hdr"
	QualityAtmos QualityType = "atmos"
)

// QualityTypeFor derives the quality bucket from a candidate sketch.
func QualityTypeFor(sketch *CapabilitySketch) QualityType {
	switch {
	case sketch.IsFEL:
		return QualityFEL
	case sketch.DVProfile != "":
		return QualityDV
	case sketch.HasAtmos:
		return QualityAtmos
	default:
		return QualityHDR
	}
}

// PendingDownload is an approval-in-flight record from tracker discovery
// to qBittorrent dispatch, keyed by a 12-hex request id.
type PendingDownload struct {
	RequestID    string         `json:"request_id"`
	MovieTitle   string         `json:"movie_title"`
	Year         *int           `json:"year,omitempty"`
	TorrentURL   string         `json:"torrent_url"`
	TargetFolder string         `json:"target_folder"`
	QualityType  QualityType    `json:"quality_type"`
	Status       DownloadStatus `json:"status"`

	// TorrentHash is captured from qBittorrent after a successful
	// dispatch; completion tracking prefers it over save-path matching.
	TorrentHash string `json:"torrent_hash,omitempty"`

	// TelegramMessageID identifies the approval message; callbacks that
	// lost their in-memory mapping on restart are recovered through it.
	TelegramMessageID int64 `json:"telegram_message_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DownloadData is the full serialised request context needed to
	// rehydrate the approval after a restart.
	DownloadData DownloadRequest `json:"download_data"`
}

// DownloadRequest is the rendering and dispatch context for an approval.
type DownloadRequest struct {
	RequestID      string      `json:"request_id"`
	MovieTitle     string      `json:"movie_title"`
	Year           *int        `json:"year,omitempty"`
	CurrentQuality string      `json:"current_quality"`
	NewQuality     string      `json:"new_quality"`
	UpgradeReason  string      `json:"upgrade_reason"`
	TorrentURL     string      `json:"torrent_url"`
	TorrentTitle   string      `json:"torrent_title"`
	TargetFolder   string      `json:"target_folder"`
	QualityType    QualityType `json:"quality_type"`
	CreatedAt      time.Time   `json:"created_at"`
}

// HistoryEntry is one append-only audit row for a download attempt.
type HistoryEntry struct {
	ID          string         `json:"id"` // surrogate uuid
	RequestID   string         `json:"request_id"`
	MovieTitle  string         `json:"movie_title"`
	QualityType QualityType    `json:"quality_type"`
	TorrentHash string         `json:"torrent_hash,omitempty"`
	Status      DownloadStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Release is one record surfaced by the external tracker feed. The core
// commits to this boundary shape only; how the feed is scraped is the
// tracker client's concern.
type Release struct {
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	URL        string    `json:"url"` // http(s) or magnet URI
	Timestamp  time.Time `json:"timestamp"`
}
