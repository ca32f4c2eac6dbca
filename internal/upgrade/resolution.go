// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package upgrade

import "strings"

// resolutionRanks orders display resolutions for upgrade comparison.
// Unknown or empty resolutions rank below everything.
var resolutionRanks = map[string]int{
	"480p":  1,
	"720p":  2,
	"1080p": 3,
	"2160p": 4,
	"4320p": 5,
}

// resolutionAliases folds Plex and release-title spellings onto the
// canonical rank keys.
var resolutionAliases = map[string]string{
	"sd":   "480p",
	"480":  "480p",
	"576p": "480p",
	"hd":   "720p",
	"720":  "720p",
	"fhd":  "1080p",
	"1080": "1080p",
	"4k":   "2160p",
	"uhd":  "2160p",
	"2160": "2160p",
	"8k":   "4320p",
	"4320": "4320p",
}

// NormalizeResolution maps a resolution string onto its canonical form.
// Unrecognised values return "unknown".
func NormalizeResolution(res string) string {
	r := strings.ToLower(strings.TrimSpace(res))
	if r == "" {
		return "unknown"
	}
	if canonical, ok := resolutionAliases[r]; ok {
		return canonical
	}
	if _, ok := resolutionRanks[r]; ok {
		return r
	}
	return "unknown"
}

// ResolutionRank returns the comparison rank of a resolution, 0 for
// unknown.
func ResolutionRank(res string) int {
	return resolutionRanks[NormalizeResolution(res)]
}
