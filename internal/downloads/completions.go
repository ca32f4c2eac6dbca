// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package downloads

import (
	"context"
	"errors"

	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// CheckCompletions closes out downloading dialogues whose torrent has
// finished. A dialogue that captured its torrent hash at dispatch is
// matched by hash; without one, the fallback is the request's save path
// within its quality category. Returns how many downloads completed.
// Called every monitor tick.
func (c *Coordinator) CheckCompletions(ctx context.Context) (int, error) {
	if c.qbt == nil {
		return 0, nil
	}

	active, err := c.db.ListDownloading(ctx)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}

	// One torrents/info call per quality bucket in play.
	byQuality := make(map[models.QualityType][]clients.TorrentInfo)
	completed := 0
	for _, p := range active {
		torrents, ok := byQuality[p.QualityType]
		if !ok {
			torrents, err = c.qbt.Torrents(ctx, p.QualityType)
			if err != nil {
				logging.Warn().
					Str("quality", string(p.QualityType)).
					Err(err).
					Msg("Torrent progress check failed")
				continue
			}
			byQuality[p.QualityType] = torrents
		}

		if !torrentFinished(torrents, p) {
			continue
		}

		updated, err := c.db.TransitionPending(ctx, p.RequestID, models.StatusCompleted)
		if err != nil {
			// A concurrent decision already moved it on.
			if !errors.Is(err, database.ErrNotFound) && !errors.Is(err, database.ErrInvalidTransition) {
				logging.Warn().
					Str("request_id", p.RequestID).
					Err(err).
					Msg("Completion transition failed")
			}
			continue
		}
		completed++
		c.appendHistory(ctx, updated)
		metrics.ApprovalsResolved.WithLabelValues("completed").Inc()

		if updated.TelegramMessageID != 0 && c.notifier != nil {
			if err := c.notifier.EditResolved(ctx, updated.TelegramMessageID, updated); err != nil {
				logging.Warn().Err(err).Msg("Completion message edit failed")
			}
		}
		logging.Info().
			Str("request_id", updated.RequestID).
			Str("title", updated.MovieTitle).
			Msg("Download completed")
	}
	return completed, nil
}

func torrentFinished(torrents []clients.TorrentInfo, p *models.PendingDownload) bool {
	for _, t := range torrents {
		if !t.Finished() {
			continue
		}
		if p.TorrentHash != "" {
			if t.Hash == p.TorrentHash {
				return true
			}
			continue
		}
		if t.SavePath == p.TargetFolder {
			return true
		}
	}
	return false
}
