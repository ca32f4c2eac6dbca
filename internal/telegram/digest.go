// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package telegram

import (
	"fmt"
	"html"
	"strings"

	"github.com/tomtom215/dovetail/internal/models"
)

// digestItemCap bounds how many titles a digest lists before eliding
// the rest into a count.
const digestItemCap = 10

// FormatScanDigest renders the post-scan summary message.
func FormatScanDigest(snap *models.ScanSnapshot) string {
	var b strings.Builder
	b.WriteString("📡 <b>Library scan finished</b>")
	fmt.Fprintf(&b, "\nMovies: %d | DV: %d | P7: %d | FEL: %d | Atmos: %d",
		snap.Total, snap.DV, snap.P7, snap.FEL, snap.Atmos)
	fmt.Fprintf(&b, "\nDuration: %s", snap.Duration().Round(1e9))
	if snap.Errors > 0 {
		fmt.Fprintf(&b, "\n⚠️ %d items failed and were skipped", snap.Errors)
	}

	appendTitleList(&b, "Added", snap.Added)
	appendTitleList(&b, "Updated", snap.Updated)
	appendTitleList(&b, "Removed", snap.Removed)
	return b.String()
}

// FormatCollectionDigest renders collection reconciliation results.
// Untouched collections are left out; an all-quiet run returns "".
func FormatCollectionDigest(results []CollectionChange) string {
	var lines []string
	for _, res := range results {
		if res.Added == 0 && res.Removed == 0 && !res.Created {
			continue
		}
		line := fmt.Sprintf("<b>%s</b>: +%d", html.EscapeString(res.Collection), res.Added)
		if res.Removed > 0 {
			line += fmt.Sprintf(" / -%d", res.Removed)
		}
		if res.Created {
			line += " (created)"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "📚 <b>Collections updated</b>\n" + strings.Join(lines, "\n")
}

// CollectionChange is the digest-facing summary of one collection's
// reconciliation.
type CollectionChange struct {
	Collection string
	Created    bool
	Added      int
	Removed    int
}

func appendTitleList(b *strings.Builder, label string, titles []string) {
	if len(titles) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n<b>%s (%d):</b>", label, len(titles))
	shown := titles
	if len(shown) > digestItemCap {
		shown = shown[:digestItemCap]
	}
	for _, title := range shown {
		fmt.Fprintf(b, "\n• %s", html.EscapeString(title))
	}
	if extra := len(titles) - len(shown); extra > 0 {
		fmt.Fprintf(b, "\n… and %d more", extra)
	}
}
