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

// Callback data prefixes for the approval keyboard. The request id
// follows the prefix directly.
const (
	callbackApprove = "dl_yes_"
	callbackDecline = "dl_no_"
)

// ApprovalKeyboard builds the two-button inline keyboard for a request.
func ApprovalKeyboard(requestID string) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{{
			{Text: "✅ Download", CallbackData: callbackApprove + requestID},
			{Text: "❌ Skip", CallbackData: callbackDecline + requestID},
		}},
	}
}

// ParseCallback decodes approval callback data into its request id and
// verdict. ok is false for data this bot did not produce.
func ParseCallback(data string) (requestID string, approved, ok bool) {
	switch {
	case strings.HasPrefix(data, callbackApprove):
		return strings.TrimPrefix(data, callbackApprove), true, true
	case strings.HasPrefix(data, callbackDecline):
		return strings.TrimPrefix(data, callbackDecline), false, true
	}
	return "", false, false
}

// FormatApproval renders the approval prompt for a download request.
func FormatApproval(req *models.DownloadRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 <b>Upgrade available: %s</b>", html.EscapeString(titleWithYear(req.MovieTitle, req.Year)))
	fmt.Fprintf(&b, "\n\n<b>Current:</b> %s", html.EscapeString(req.CurrentQuality))
	fmt.Fprintf(&b, "\n<b>Candidate:</b> %s", html.EscapeString(req.NewQuality))
	fmt.Fprintf(&b, "\n<b>Reason:</b> %s", html.EscapeString(req.UpgradeReason))
	if req.TorrentTitle != "" {
		fmt.Fprintf(&b, "\n\n<code>%s</code>", html.EscapeString(req.TorrentTitle))
	}
	return b.String()
}

// FormatResolved renders the in-place replacement text once a request
// leaves the pending state.
func FormatResolved(pending *models.PendingDownload) string {
	title := html.EscapeString(titleWithYear(pending.MovieTitle, pending.Year))
	switch pending.Status {
	case models.StatusDownloading:
		return fmt.Sprintf("✅ <b>Approved:</b> %s\nSent to qBittorrent (%s).", title, pending.QualityType)
	case models.StatusCompleted:
		return fmt.Sprintf("✅ <b>Completed:</b> %s", title)
	case models.StatusDeclined:
		return fmt.Sprintf("❌ <b>Declined:</b> %s", title)
	case models.StatusExpired:
		return fmt.Sprintf("⏰ <b>Expired:</b> %s\nNo decision within the approval window.", title)
	}
	return title
}

func titleWithYear(title string, year *int) string {
	if year != nil {
		return fmt.Sprintf("%s (%d)", title, *year)
	}
	return title
}
