// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package scanner

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/dovetail/internal/models"
)

// Stream types in Plex metadata.
const (
	streamTypeVideo = "1"
	streamTypeAudio = "2"
)

// metadataResponse is the /library/metadata/{key} payload.
type metadataResponse struct {
	Videos []videoElement `xml:"Video"`
}

type videoElement struct {
	RatingKey             string         `xml:"ratingKey,attr"`
	Title                 string         `xml:"title,attr"`
	Year                  string         `xml:"year,attr"`
	OriginallyAvailableAt string         `xml:"originallyAvailableAt,attr"`
	GUID                  string         `xml:"guid,attr"`
	Media                 []mediaElement `xml:"Media"`
	Releases              []struct {
		Year string `xml:"year,attr"`
	} `xml:"Release"`
}

type mediaElement struct {
	VideoResolution string        `xml:"videoResolution,attr"`
	Bitrate         string        `xml:"bitrate,attr"`
	Parts           []partElement `xml:"Part"`
}

type partElement struct {
	Size    string          `xml:"size,attr"`
	Streams []streamElement `xml:"Stream"`
}

type streamElement struct {
	StreamType           string `xml:"streamType,attr"`
	Codec                string `xml:"codec,attr"`
	Bitrate              string `xml:"bitrate,attr"`
	Title                string `xml:"title,attr"`
	DisplayTitle         string `xml:"displayTitle,attr"`
	ExtendedDisplayTitle string `xml:"extendedDisplayTitle,attr"`
	AudioChannelLayout   string `xml:"audioChannelLayout,attr"`
	DOVIProfile          string `xml:"DOVIProfile,attr"`
	DOVIBLPresent        string `xml:"DOVIBLPresent,attr"`
	DOVIELPresent        string `xml:"DOVIELPresent,attr"`
}

// FetchItemMetadata retrieves one item's metadata and extracts its
// capability record.
func (c *PlexClient) FetchItemMetadata(ctx context.Context, ratingKey string) (*models.CapabilityRecord, error) {
	var meta metadataResponse
	path := fmt.Sprintf("/library/metadata/%s", ratingKey)
	if err := c.getXML(ctx, path, nil, &meta); err != nil {
		return nil, err
	}
	if len(meta.Videos) == 0 {
		return nil, fmt.Errorf("metadata for %s contains no video element", ratingKey)
	}
	return extractCapability(&meta.Videos[0]), nil
}

// extractCapability derives the capability record from a video element.
// Multiple <Media> variants tie-break to the first in document order;
// within it, the first valid <Part> and first matching <Stream> win.
func extractCapability(v *videoElement) *models.CapabilityRecord {
	rec := &models.CapabilityRecord{
		RatingKey:   v.RatingKey,
		Title:       v.Title,
		Year:        extractYear(v),
		LastUpdated: time.Now().UTC(),
		Extra: models.CapabilityExtra{
			GUID: v.GUID,
		},
	}

	if len(v.Media) == 0 {
		return rec
	}
	media := &v.Media[0]
	rec.Extra.Resolution = media.VideoResolution

	var part *partElement
	for i := range media.Parts {
		if len(media.Parts[i].Streams) > 0 || media.Parts[i].Size != "" {
			part = &media.Parts[i]
			break
		}
	}
	if part == nil {
		return rec
	}

	if size, err := strconv.ParseInt(part.Size, 10, 64); err == nil && size > 0 {
		rec.FileSize = size
	}

	var audioDescriptors []string
	for i := range part.Streams {
		s := &part.Streams[i]
		switch s.StreamType {
		case streamTypeVideo:
			// First video stream carrying a DV profile wins.
			if rec.DVProfile == "" && s.DOVIProfile != "" {
				rec.DVProfile = s.DOVIProfile
			}
			// Canonical FEL test: Profile 7 with both layers present.
			if s.DOVIProfile == "7" && s.DOVIBLPresent == "1" && s.DOVIELPresent == "1" {
				rec.DVFEL = true
			}
			if rec.VideoBitrate == 0 {
				if kbps, err := strconv.ParseFloat(s.Bitrate, 64); err == nil && kbps > 0 {
					rec.VideoBitrate = math.Round(kbps/1000*10) / 10
				}
			}
		case streamTypeAudio:
			if s.DisplayTitle != "" {
				audioDescriptors = append(audioDescriptors, s.DisplayTitle)
			} else if s.Title != "" {
				audioDescriptors = append(audioDescriptors, s.Title)
			}
			if !rec.HasAtmos && isAtmosStream(s) {
				rec.HasAtmos = true
			}
		}
	}
	rec.AudioTracks = strings.Join(audioDescriptors, ", ")

	// FEL implies profile 7 even when another stream reported a
	// different profile first.
	if rec.DVFEL {
		rec.DVProfile = "7"
	}

	return rec
}

// isAtmosStream applies the canonical Atmos test: a TrueHD stream with
// an "atmos" token in any of its descriptive attributes.
func isAtmosStream(s *streamElement) bool {
	if !strings.EqualFold(s.Codec, "truehd") {
		return false
	}
	for _, field := range []string{s.Title, s.DisplayTitle, s.ExtendedDisplayTitle, s.AudioChannelLayout} {
		if strings.Contains(strings.ToLower(field), "atmos") {
			return true
		}
	}
	return false
}

// extractYear applies the fallback chain: @year, first Release year,
// then the year prefix of originallyAvailableAt.
func extractYear(v *videoElement) *int {
	if y := parseYear(v.Year); y != nil {
		return y
	}
	for _, rel := range v.Releases {
		if y := parseYear(rel.Year); y != nil {
			return y
		}
	}
	if len(v.OriginallyAvailableAt) >= 4 {
		return parseYear(v.OriginallyAvailableAt[:4])
	}
	return nil
}

func parseYear(s string) *int {
	y, err := strconv.Atoi(s)
	if err != nil || y < 1800 || y > 2200 {
		return nil
	}
	return &y
}

// decodeMetadata is exposed for tests that feed canned XML documents.
func decodeMetadata(data []byte) (*metadataResponse, error) {
	var meta metadataResponse
	if err := xml.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
