// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package upgrade

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tomtom215/dovetail/internal/models"
)

// ErrNoYear indicates the release title carries no parseable year, so
// no sketch can be built from it.
var ErrNoYear = errors.New("release title has no parseable year")

var (
	// Title + year: dotted scene names first, then plain "Title 2021".
	titleYearDotted = regexp.MustCompile(`^(.+?)[.\s]+(\d{4})[.\s]`)
	titleYearPlain  = regexp.MustCompile(`^(.+?)\s+(\d{4})`)

	profile7Re    = regexp.MustCompile(`(?i)\bP(?:ROFILE ?)?7\b`)
	felRe         = regexp.MustCompile(`(?i)\bFEL\b|BL\+EL|\bBL EL\b`)
	profileDigit  = regexp.MustCompile(`(?i)\b(?:PROFILE ?|P)([58])\b`)
	dvFallbackRe  = regexp.MustCompile(`(?i)\bDOLBY ?VISION\b|\bDV\b|\bDOVI\b`)
	atmosRe       = regexp.MustCompile(`(?i)\bATMOS\b`)
	yearDigitsRe  = regexp.MustCompile(`^\d{4}$`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// resolutionTokens maps release-title resolution tokens to canonical
// values, checked in order so "2160P" wins over a stray "HD".
var resolutionTokens = []struct {
	re    *regexp.Regexp
	value string
}{
	{regexp.MustCompile(`(?i)\b2160P\b|\b4K\b|\bUHD\b`), "2160p"},
	{regexp.MustCompile(`(?i)\b1080P\b|\bFHD\b`), "1080p"},
	{regexp.MustCompile(`(?i)\b720P\b|\bHD\b`), "720p"},
	{regexp.MustCompile(`(?i)\b480P\b|\bSD\b`), "480p"},
}

// ParseReleaseTitle derives a capability sketch from a free-form release
// title. Titles without a recognisable year are rejected with ErrNoYear:
// a yearless title cannot be matched against the library safely.
func ParseReleaseTitle(raw string) (*models.CapabilitySketch, error) {
	title, year, ok := splitTitleYear(raw)
	if !ok {
		return nil, ErrNoYear
	}

	sketch := &models.CapabilitySketch{
		Title:      title,
		Year:       year,
		Resolution: "unknown",
	}

	sketch.IsFEL = felRe.MatchString(raw)

	switch {
	case profile7Re.MatchString(raw):
		sketch.DVProfile = "7"
	case sketch.IsFEL:
		// FEL implies a Profile 7 dual-layer stream.
		sketch.DVProfile = "7"
	case profileDigit.MatchString(raw):
		m := profileDigit.FindStringSubmatch(raw)
		sketch.DVProfile = m[1]
	case dvFallbackRe.MatchString(raw):
		// Bare "DV"/"DoVi" most commonly means a Profile 5 web encode.
		sketch.DVProfile = "5"
	}

	sketch.HasAtmos = atmosRe.MatchString(raw)

	for _, tok := range resolutionTokens {
		if tok.re.MatchString(raw) {
			sketch.Resolution = tok.value
			break
		}
	}

	return sketch, nil
}

// splitTitleYear extracts the movie title and year from a release name.
// Dots are collapsed to spaces and whitespace runs squeezed.
func splitTitleYear(raw string) (string, int, bool) {
	m := titleYearDotted.FindStringSubmatch(raw)
	if m == nil {
		m = titleYearPlain.FindStringSubmatch(raw)
	}
	if m == nil {
		return "", 0, false
	}

	yearStr := m[2]
	if !yearDigitsRe.MatchString(yearStr) {
		return "", 0, false
	}
	year := atoi4(yearStr)
	// Reject implausible years ("1080" from a resolution token).
	if year < 1900 || year > 2100 {
		return "", 0, false
	}

	title := strings.ReplaceAll(m[1], ".", " ")
	title = whitespaceRun.ReplaceAllString(strings.TrimSpace(title), " ")
	if title == "" {
		return "", 0, false
	}
	return title, year, true
}

// atoi4 converts a 4-digit string; inputs are pre-validated.
func atoi4(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
