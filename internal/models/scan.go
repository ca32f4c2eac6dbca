// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package models

import "time"

// ScanSnapshot is the persisted result of the most recent library scan.
// It survives restarts via the settings table and backs the status
// endpoint and the Telegram scan digest.
type ScanSnapshot struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total int `json:"total"`
	DV    int `json:"dv"`
	P7    int `json:"p7"`
	FEL   int `json:"fel"`
	Atmos int `json:"atmos"`

	// Added and Updated carry movie titles changed by this scan; Removed
	// carries titles of stored movies Plex no longer lists. Their rows
	// stay in the store.
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`

	// Errors counts items skipped because their metadata fetch or parse
	// failed. The scan is still considered successful when non-zero.
	Errors int `json:"errors"`
}

// Duration returns the wall-clock scan duration.
func (s *ScanSnapshot) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
