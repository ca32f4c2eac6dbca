// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package models defines the core data types shared across Dovetail:
// capability records extracted from Plex, capability sketches parsed from
// release titles, pending download workflow entities, and the upgrade
// notification policy.
package models

import (
	"strconv"
	"strings"
	"time"
)

// CapabilityRecord is the normalised per-movie fingerprint stored for
// every known library item, keyed by the stable Plex rating key.
//
// Invariant: DVFEL implies DVProfile == "7". The extractor enforces this
// at parse time and the store re-checks it on upsert.
type CapabilityRecord struct {
	RatingKey string `json:"rating_key"`
	Title     string `json:"title"`

	// Year is nil when Plex exposes no release year for the item.
	Year *int `json:"year,omitempty"`

	// DVProfile is the Dolby Vision profile as reported by Plex
	// ("5", "7", "8.1", ...). Empty string means no Dolby Vision.
	DVProfile string `json:"dv_profile,omitempty"`

	// DVFEL is true only for Profile 7 streams carrying both base and
	// enhancement layers (DOVIBLPresent=1 and DOVIELPresent=1).
	DVFEL bool `json:"dv_fel"`

	// HasAtmos is true when a TrueHD audio stream carries an Atmos token.
	HasAtmos bool `json:"has_atmos"`

	FileSize     int64   `json:"file_size,omitempty"`     // bytes
	VideoBitrate float64 `json:"video_bitrate,omitempty"` // Mbps, one decimal
	AudioTracks  string  `json:"audio_tracks,omitempty"`  // display descriptor

	// LastUpdated is monotonically non-decreasing per rating key.
	LastUpdated time.Time `json:"last_updated"`

	Extra CapabilityExtra `json:"extra"`
}

// CapabilityExtra carries supplementary fields used by later
// classification but not indexed by the store.
type CapabilityExtra struct {
	Resolution string `json:"resolution,omitempty"` // "2160p", "1080p", ...
	GUID       string `json:"guid,omitempty"`       // external id string from Plex
}

// HasDV reports whether the record carries any Dolby Vision profile.
func (r *CapabilityRecord) HasDV() bool {
	return r.DVProfile != ""
}

// DVProfileNumber returns the numeric DV profile, or 0 when the record
// has no DV or the profile string is non-numeric ("8.1" yields 8).
func (r *CapabilityRecord) DVProfileNumber() int {
	return profileNumber(r.DVProfile)
}

// Capability is the comparison view shared by stored records and
// release-title sketches. The upgrade classifier operates on this shape
// only, so it never needs to know which side a value came from.
type Capability struct {
	DVProfile  string
	DVFEL      bool
	HasAtmos   bool
	Resolution string
}

// Capability projects the record onto the classifier's comparison shape.
func (r *CapabilityRecord) Capability() Capability {
	return Capability{
		DVProfile:  r.DVProfile,
		DVFEL:      r.DVFEL,
		HasAtmos:   r.HasAtmos,
		Resolution: r.Extra.Resolution,
	}
}

// HasDV reports whether the capability carries any Dolby Vision profile.
func (c Capability) HasDV() bool {
	return c.DVProfile != ""
}

// DVProfileNumber returns the numeric DV profile, or 0 when absent.
func (c Capability) DVProfileNumber() int {
	return profileNumber(c.DVProfile)
}

// CapabilitySketch is a capability-shaped record derived from a free-form
// release title. Several fields may be unknown; it is used only for
// comparison against a stored CapabilityRecord and is never persisted as
// a library item.
type CapabilitySketch struct {
	Title      string `json:"title"`
	Year       int    `json:"year"`
	DVProfile  string `json:"dv_profile,omitempty"`
	IsFEL      bool   `json:"is_fel"`
	HasAtmos   bool   `json:"has_atmos"`
	Resolution string `json:"resolution"` // "unknown" when not detectable
}

// Capability projects the sketch onto the classifier's comparison shape.
func (s *CapabilitySketch) Capability() Capability {
	return Capability{
		DVProfile:  s.DVProfile,
		DVFEL:      s.IsFEL,
		HasAtmos:   s.HasAtmos,
		Resolution: s.Resolution,
	}
}

// profileNumber parses the leading integer of a DV profile string.
func profileNumber(profile string) int {
	if profile == "" {
		return 0
	}
	head, _, _ := strings.Cut(profile, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

// NormalizeTitle lowercases and whitespace-squeezes a movie title for
// library lookups. Both the store and the Radarr client match on this
// form so a tracker title and a Plex title compare equal.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
